package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	speechmodel "github.com/zhouzirui/medcall/backend/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Speech   SpeechConfig
	Monitor  MonitorConfig
	Session  SessionConfig
	LogLevel string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	monitor, err := loadMonitorConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AI:       ai,
		Speech:   speech,
		Monitor:  monitor,
		Session:  session,
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5001"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5001" 或 "127.0.0.1:5001"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AI providers.
const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	GeminiAPIKey   string
	GeminiModel    string
	GeminiProject  string
	GeminiLocation string
}

// Enabled 表示所选 provider 是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Provider == ProviderGemini {
		return c.GeminiAPIKey != "" || c.GeminiProject != ""
	}
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用 Ark 配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderGemini {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	return AIConfig{
		Provider:       provider,
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		GeminiAPIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:    getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiProject:  strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT")),
		GeminiLocation: getEnvOrDefault("GOOGLE_CLOUD_LOCATION", "us-central1"),
	}, nil
}

// SpeechConfig 描述语音识别相关配置
type SpeechConfig struct {
	Provider       string
	AppID          string
	AccessToken    string
	ConcurrentMode bool
	Endpoint       string
	Language       string
	AudioFormat    string
	Timeout        time.Duration
	WhisperURL     string
	WhisperAPIKey  string
	WhisperModel   string
	Enabled        bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	concurrent, err := parseBoolEnv("SPEECH_CONCURRENT_MODE", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("SPEECH_PROVIDER", "volcengine"))
	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}
	whisperURL := strings.TrimSpace(os.Getenv("WHISPER_URL"))
	whisperKey := strings.TrimSpace(os.Getenv("WHISPER_API_KEY"))
	if whisperKey == "" {
		whisperKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	var enabled bool
	switch provider {
	case "volcengine":
		enabled = appID != "" && accessToken != ""
	case "whisper":
		enabled = whisperKey != "" || whisperURL != ""
	default:
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_PROVIDER value %q", provider)
	}

	return SpeechConfig{
		Provider:       provider,
		AppID:          appID,
		AccessToken:    accessToken,
		ConcurrentMode: concurrent,
		Endpoint:       strings.TrimSpace(os.Getenv("SPEECH_ASR_ENDPOINT")),
		Language:       getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		AudioFormat:    getEnvOrDefault("SPEECH_AUDIO_FORMAT", "webm"),
		Timeout:        timeout,
		WhisperURL:     whisperURL,
		WhisperAPIKey:  whisperKey,
		WhisperModel:   getEnvOrDefault("WHISPER_MODEL", "whisper-1"),
		Enabled:        enabled,
	}, nil
}

// TranscriberConfig 转换为语音识别客户端使用的配置
func (c SpeechConfig) TranscriberConfig() speechmodel.Config {
	return speechmodel.Config{
		Provider:       speechmodel.Provider(c.Provider),
		AppID:          c.AppID,
		AccessToken:    c.AccessToken,
		ConcurrentMode: c.ConcurrentMode,
		Endpoint:       c.Endpoint,
		WhisperURL:     c.WhisperURL,
		WhisperAPIKey:  c.WhisperAPIKey,
		WhisperModel:   c.WhisperModel,
		AudioFormat:    c.AudioFormat,
		Language:       c.Language,
		Timeout:        c.Timeout,
	}
}

// MonitorConfig 控制分析流水线。
type MonitorConfig struct {
	Cooldown               time.Duration
	AgentTimeout           time.Duration
	MinAnalysisChars       int
	HistoryWindow          int
	SentimentHistoryWindow int
	Agents                 []string
}

func loadMonitorConfig() (MonitorConfig, error) {
	cooldown, err := parseDurationEnv("MONITOR_ALERT_COOLDOWN", 30*time.Second)
	if err != nil {
		return MonitorConfig{}, err
	}
	timeout, err := parseDurationEnv("MONITOR_AGENT_TIMEOUT", 20*time.Second)
	if err != nil {
		return MonitorConfig{}, err
	}
	if timeout == 0 {
		return MonitorConfig{}, fmt.Errorf("invalid MONITOR_AGENT_TIMEOUT value %q: must be positive", os.Getenv("MONITOR_AGENT_TIMEOUT"))
	}
	minChars, err := parseIntEnvOrDefault("MONITOR_MIN_ANALYSIS_CHARS", 15)
	if err != nil {
		return MonitorConfig{}, err
	}
	window, err := parseIntEnvOrDefault("MONITOR_HISTORY_WINDOW", 5)
	if err != nil {
		return MonitorConfig{}, err
	}
	sentimentWindow, err := parseIntEnvOrDefault("MONITOR_SENTIMENT_HISTORY_WINDOW", 10)
	if err != nil {
		return MonitorConfig{}, err
	}

	return MonitorConfig{
		Cooldown:               cooldown,
		AgentTimeout:           timeout,
		MinAnalysisChars:       minChars,
		HistoryWindow:          window,
		SentimentHistoryWindow: sentimentWindow,
		Agents:                 splitList(os.Getenv("MONITOR_AGENTS")),
	}, nil
}

// SessionConfig 控制已停止会话的保留时间。0 表示永久保留。
type SessionConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	retention, err := parseDurationEnv("SESSION_RETENTION", time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	interval, err := parseDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	if interval == 0 {
		interval = time.Minute
	}
	return SessionConfig{Retention: retention, SweepInterval: interval}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 Go duration（"30s"）或整数秒（"30"），不允许负数。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	var (
		val time.Duration
		err error
	)
	if seconds, convErr := strconv.Atoi(raw); convErr == nil {
		val = time.Duration(seconds) * time.Second
	} else {
		val, err = time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
		}
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseIntEnvOrDefault(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, strconv.Itoa(*val))
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
