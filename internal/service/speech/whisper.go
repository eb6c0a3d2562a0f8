package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	speechmodel "github.com/zhouzirui/medcall/backend/internal/model/speech"
)

const (
	defaultWhisperURL   = "https://api.openai.com/v1/audio/transcriptions"
	defaultWhisperModel = "whisper-1"
)

// WhisperClient 调用 OpenAI 兼容的 /audio/transcriptions 接口。
type WhisperClient struct {
	url    string
	apiKey string
	model  string
	format string
	lang   string
	http   *http.Client
}

// NewWhisperClient builds a client; the API key is required unless a custom
// URL points at a self-hosted server.
func NewWhisperClient(cfg speechmodel.Config) (*WhisperClient, error) {
	url := firstNonEmpty(cfg.WhisperURL, defaultWhisperURL)
	apiKey := strings.TrimSpace(cfg.WhisperAPIKey)
	if apiKey == "" && url == defaultWhisperURL {
		return nil, fmt.Errorf("whisper provider requires WHISPER_API_KEY")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &WhisperClient{
		url:    url,
		apiKey: apiKey,
		model:  firstNonEmpty(cfg.WhisperModel, defaultWhisperModel),
		format: firstNonEmpty(cfg.AudioFormat, "webm"),
		lang:   languageCode(cfg.Language),
		http:   &http.Client{Timeout: timeout},
	}, nil
}

// Transcribe uploads the audio as multipart form data and returns plain text.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", transcriptionError("no audio data")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "audio."+c.format)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	fields := map[string]string{"model": c.model, "response_format": "text"}
	if c.lang != "" {
		fields["language"] = c.lang
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return "", fmt.Errorf("%w: %w", ErrTranscription, err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrTranscription, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", transcriptionError("whisper returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return strings.TrimSpace(string(payload)), nil
}

// languageCode turns "en-US" into the ISO-639-1 code whisper expects.
func languageCode(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
