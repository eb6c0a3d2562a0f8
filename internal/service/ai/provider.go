package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/medcall/backend/internal/config"
)

// NewChatModel 根据 AI_PROVIDER 创建分类器共用的大模型实例。
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiChatModel(ctx, GeminiConfig{
			APIKey:     cfg.GeminiAPIKey,
			Project:    cfg.GeminiProject,
			Location:   cfg.GeminiLocation,
			Model:      cfg.GeminiModel,
			MaxTokens:  derefInt(cfg.MaxTokens),
			JSONOutput: true,
		})
	case config.ProviderArk, "":
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return chatModel, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
