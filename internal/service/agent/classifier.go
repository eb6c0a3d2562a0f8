package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/medcall/backend/internal/model/call"
)

// Classifier 通过大模型链路对单条语句做结构化判定。
type Classifier struct {
	kind        Kind
	temperature float32
	runner      compose.Runnable[map[string]any, *schema.Message]
}

// NewClassifier 为指定类别编译 prompt -> chat model 链。
func NewClassifier(ctx context.Context, chatModel model.BaseChatModel, kind Kind) (*Classifier, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required for %s classifier", kind)
	}
	set, ok := prompts[kind]
	if !ok {
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}

	promptTemplate := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(set.system),
		schema.UserMessage(set.user),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s classifier chain: %w", kind, err)
	}

	return &Classifier{kind: kind, temperature: set.temperature, runner: runnable}, nil
}

// NewClassifiers builds one classifier per kind, sharing chatModel.
func NewClassifiers(ctx context.Context, chatModel model.BaseChatModel, kinds []Kind) ([]Agent, error) {
	agents := make([]Agent, 0, len(kinds))
	for _, kind := range kinds {
		c, err := NewClassifier(ctx, chatModel, kind)
		if err != nil {
			return nil, err
		}
		agents = append(agents, c)
	}
	return agents, nil
}

func (c *Classifier) Kind() Kind { return c.kind }

// Analyze 调用模型并解析 JSON 结果，任何失败都包装为 ErrAnalysis。
func (c *Classifier) Analyze(ctx context.Context, text string, history []call.TranscriptEntry) (Result, error) {
	input := map[string]any{
		"context": FormatHistory(history),
		"current": strings.TrimSpace(text),
	}

	msg, err := c.runner.Invoke(ctx, input, compose.WithChatModelOption(model.WithTemperature(c.temperature)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s invoke: %w", ErrAnalysis, c.kind, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("%w: %s returned empty reply", ErrAnalysis, c.kind)
	}

	result, err := DecodeResult(c.kind, msg.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	return result, nil
}
