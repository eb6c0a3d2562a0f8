package agent

// 提示词使用 Go template 占位符：{{.context}} 为最近对话，{{.current}} 为当前语句。

const adverseEventSystemPrompt = "You are a medical adverse event detection expert. Respond only with valid JSON."

const adverseEventUserPrompt = `You are a medical adverse event detection system. Analyze the following conversation for any adverse events (AEs).

An adverse event includes:
- Side effects from medications
- Unexpected medical complications
- Allergic reactions
- Treatment-related problems
- New or worsening symptoms after treatment
- Medication errors
- Device malfunctions

Recent conversation context:
{{.context}}

Current statement: {{.current}}

Analyze if an adverse event is being reported. Respond in JSON format:
{
    "detected": true/false,
    "confidence": 0-100,
    "ae_type": "type of adverse event",
    "severity": "mild/moderate/severe",
    "description": "brief description",
    "action": "recommended next steps"
}`

const appointmentSystemPrompt = "You are an appointment scheduling expert. Respond only with valid JSON."

const appointmentUserPrompt = `You are an appointment scheduling assistant. Analyze the conversation for:
- Missed appointments
- Scheduling conflicts
- Rescheduling requests
- Cancellations
- Confusion about appointment times
- Need for follow-up appointments

Recent conversation:
{{.context}}

Current statement: {{.current}}

Respond in JSON format:
{
    "issue_detected": true/false,
    "issue_type": "missed_appointment/scheduling_conflict/rescheduling/cancellation/follow_up",
    "description": "brief description",
    "urgency": "low/medium/high",
    "suggested_action": "specific next steps to resolve",
    "appointment_details": {
        "date_mentioned": "if any",
        "time_mentioned": "if any",
        "reason": "reason for appointment issue"
    }
}`

const emergencySystemPrompt = "You are an emergency medical triage expert. Be cautious and err on the side of safety. Respond only with valid JSON."

const emergencyUserPrompt = `You are an emergency medical triage system. Analyze for life-threatening or urgent situations:

CRITICAL SIGNS (require immediate 911):
- Chest pain, heart attack symptoms
- Difficulty breathing, choking
- Severe bleeding
- Loss of consciousness
- Stroke symptoms (facial drooping, slurred speech, arm weakness)
- Severe allergic reactions
- Suicidal ideation or self-harm
- Severe injuries

URGENT SIGNS (require immediate medical attention):
- High fever with concerning symptoms
- Severe pain
- Sudden vision changes
- Severe headache
- Persistent vomiting
- Signs of infection

Recent conversation:
{{.context}}

Current statement: {{.current}}

Respond in JSON format:
{
    "is_emergency": true/false,
    "severity": "critical/urgent/moderate",
    "emergency_type": "type of emergency",
    "confidence": 0-100,
    "symptoms": ["list of concerning symptoms"],
    "action": "immediate action to take (e.g., 'Call 911', 'Go to ER', 'Contact doctor immediately')",
    "description": "brief explanation"
}`

const sentimentSystemPrompt = "You are an expert in detecting distress signals and danger through conversation analysis. Be careful but thorough. Respond only with valid JSON."

const sentimentUserPrompt = `You are an expert at detecting distress signals and potential danger situations through conversation analysis.

Analyze the conversation for signs that the speaker might be in danger or under duress:

DANGER INDICATORS:
- Saying "I'm fine" but conversation suggests otherwise
- Unusual formality or stiffness in responses
- Avoiding direct answers
- Code words or phrases that seem out of place
- Sudden change in communication pattern
- Contradictory statements
- Signs of being coached or monitored
- Hesitation or unusual pauses (if mentioned in context)
- Background disturbances or interruptions
- Person sounds scared despite saying positive things

EXAMPLES:
- Bank teller being robbed might say "everything is fine" but tone suggests fear
- Domestic violence victim might deny problems while showing distress signals
- Kidnapping victim might give coded messages
- Medical patient under duress might minimize symptoms

Conversation history:
{{.context}}

Current statement: {{.current}}

Analyze for sentiment-content mismatch and potential danger. Respond in JSON format:
{
    "mismatch_detected": true/false,
    "confidence": 0-100,
    "analysis": {
        "stated_sentiment": "what they're saying",
        "actual_sentiment": "what might be true",
        "indicators": ["list of warning signs"],
        "context_clues": ["contextual evidence"]
    },
    "risk_level": "low/medium/high/critical",
    "scenario_type": "possible scenario (e.g., 'coercion', 'distress', 'emergency_hidden', 'normal')",
    "action": "recommended action",
    "description": "explanation of the mismatch"
}`

type promptSet struct {
	system      string
	user        string
	temperature float32
}

var prompts = map[Kind]promptSet{
	KindAdverseEvent:      {system: adverseEventSystemPrompt, user: adverseEventUserPrompt, temperature: 0.3},
	KindAppointment:       {system: appointmentSystemPrompt, user: appointmentUserPrompt, temperature: 0.3},
	KindEmergency:         {system: emergencySystemPrompt, user: emergencyUserPrompt, temperature: 0.2},
	KindSentimentMismatch: {system: sentimentSystemPrompt, user: sentimentUserPrompt, temperature: 0.4},
}
