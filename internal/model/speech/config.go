package speech

import "time"

// Provider 语音识别后端
type Provider string

const (
	ProviderVolcengine Provider = "volcengine"
	ProviderWhisper    Provider = "whisper"
)

// Config 语音识别配置
type Config struct {
	Provider Provider

	// Volcengine 配置
	AppID          string // 火山引擎 APP ID
	AccessToken    string // 火山引擎 Access Token
	ConcurrentMode bool   // ASR并发模式（false为小时版）
	Endpoint       string // 为空时使用官方 nostream 地址

	// Whisper 兼容接口
	WhisperURL    string
	WhisperAPIKey string
	WhisperModel  string

	AudioFormat string // wav, mp3, webm ...
	Language    string
	Timeout     time.Duration
}
