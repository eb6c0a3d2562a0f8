package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speechmodel "github.com/zhouzirui/medcall/backend/internal/model/speech"
)

// ErrTranscription wraps every failure to turn audio into text.
var ErrTranscription = errors.New("transcription failed")

// Transcriber 将一段音频转换为文本。
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audio []byte) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f(ctx, audio)
}

// New 根据 Provider 选择识别后端。
func New(cfg speechmodel.Config) (Transcriber, error) {
	switch speechmodel.Provider(strings.ToLower(string(cfg.Provider))) {
	case speechmodel.ProviderWhisper:
		return NewWhisperClient(cfg)
	case speechmodel.ProviderVolcengine, "":
		return NewVolcengineClient(cfg)
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Provider)
	}
}

func transcriptionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTranscription, fmt.Sprintf(format, args...))
}
