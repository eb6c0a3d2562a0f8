package keyword

import (
	"sort"
	"strings"
)

// Category 表示启发式检测覆盖的告警类别。
type Category string

const (
	Emergency         Category = "emergency"
	AdverseEvent      Category = "adverse_event"
	Appointment       Category = "appointment"
	SentimentMismatch Category = "sentiment_mismatch"
)

// Level 粗粒度的严重程度
type Level string

const (
	LevelNone     Level = ""
	LevelModerate Level = "moderate"
	LevelUrgent   Level = "urgent"
	LevelCritical Level = "critical"
)

// Finding 给出某个类别的匹配结果。
type Finding struct {
	Category Category
	Matched  bool
	Terms    []string
	Score    int
	Level    Level
}

var criticalTerms = []string{
	"chest pain", "heart attack", "can't breathe", "cannot breathe", "can not breathe", "not breathing",
	"choking", "severe bleeding", "bleeding a lot", "won't stop bleeding", "passed out", "unconscious",
	"fainted", "stroke", "slurred speech", "face is drooping", "drooping", "arm is numb", "anaphylaxis",
	"throat is closing", "kill myself", "suicide", "suicidal", "end my life", "hurt myself", "overdose",
}

var urgentTerms = []string{
	"high fever", "severe pain", "worst headache", "severe headache", "can't see", "vision is blurry",
	"sudden vision", "keep vomiting", "vomiting blood", "can't stop vomiting", "infection", "swollen and hot",
}

var keywordBuckets = map[Category][]string{
	AdverseEvent: {
		"side effect", "side-effect", "reaction to", "allergic", "rash", "hives", "itching since",
		"after taking", "since i started", "since starting", "new medication", "the medication made",
		"the pills made", "dizzy since", "nauseous since", "swelling after", "wrong dose", "double dose",
		"took too many", "device stopped", "pump stopped", "inhaler isn't working", "worse after the treatment",
	},
	Appointment: {
		"appointment", "reschedule", "re-schedule", "cancel my", "cancellation", "missed my",
		"couldn't make it", "can't make it", "follow-up", "follow up", "book a", "schedule a",
		"move my visit", "what time is my", "double booked", "conflict with",
	},
}

var reassuranceTerms = []string{
	"i'm fine", "im fine", "i am fine", "everything is fine", "everything's fine", "it's fine",
	"i'm okay", "i am okay", "i'm ok", "nothing is wrong", "nothing's wrong", "don't worry", "all good",
}

var distressTerms = []string{
	"scared", "afraid", "help me", "please help", "he's here", "she's here", "he is here", "can't talk",
	"cannot talk", "listening", "watching me", "won't let me", "hurt me", "hit me", "locked", "crying",
	"shaking", "trapped", "threatened", "gun", "knife", "pizza", "wrong number",
}

// Detect 对当前语句（及可选的上下文）进行关键词匹配。
func Detect(category Category, text string, history []string) Finding {
	normalized := normalize(text)
	finding := Finding{Category: category}
	if normalized == "" {
		return finding
	}

	switch category {
	case Emergency:
		critical := matchTerms(normalized, criticalTerms)
		urgent := matchTerms(normalized, urgentTerms)
		finding.Terms = append(critical, urgent...)
		finding.Score = len(critical)*5 + len(urgent)*3
		switch {
		case len(critical) > 0:
			finding.Level = LevelCritical
		case len(urgent) > 0:
			finding.Level = LevelUrgent
		}
	case SentimentMismatch:
		context := normalize(strings.Join(history, " "))
		reassured := matchTerms(normalized, reassuranceTerms)
		if len(reassured) == 0 {
			break
		}
		distress := matchTerms(normalized+" "+context, distressTerms)
		if len(distress) == 0 {
			break
		}
		finding.Terms = append(reassured, distress...)
		finding.Score = len(reassured)*2 + len(distress)*3
		finding.Level = LevelUrgent
		if len(distress) > 1 {
			finding.Level = LevelCritical
		}
	default:
		finding.Terms = matchTerms(normalized, keywordBuckets[category])
		finding.Score = len(finding.Terms) * 3
		if finding.Score > 0 {
			finding.Level = LevelModerate
		}
	}

	finding.Matched = finding.Score > 0
	return finding
}

func matchTerms(normalized string, terms []string) []string {
	var matched []string
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(normalized, term) {
			matched = append(matched, term)
		}
	}
	sort.Strings(matched)
	return matched
}

func normalize(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	return strings.ReplaceAll(lowered, "’", "'")
}
