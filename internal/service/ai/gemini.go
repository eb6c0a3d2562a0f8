package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// GeminiConfig 描述 Gemini（API Key 或 Vertex AI）连接参数。
type GeminiConfig struct {
	APIKey     string
	Project    string
	Location   string
	Model      string
	MaxTokens  int
	JSONOutput bool
}

// GeminiChatModel adapts the genai client to eino's chat model interface so
// the classifier chains can run on Gemini as well as Ark.
type GeminiChatModel struct {
	client     *genai.Client
	model      string
	maxTokens  int
	jsonOutput bool
}

var _ model.BaseChatModel = (*GeminiChatModel)(nil)

// NewGeminiChatModel uses the Vertex backend when a project is set, the
// Gemini API otherwise.
func NewGeminiChatModel(ctx context.Context, cfg GeminiConfig) (*GeminiChatModel, error) {
	clientCfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: cfg.APIKey}
	if cfg.Project != "" {
		clientCfg = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	} else if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini requires GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT")
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	name := strings.TrimSpace(cfg.Model)
	if name == "" {
		name = "gemini-2.5-flash"
	}
	return &GeminiChatModel{client: client, model: name, maxTokens: cfg.MaxTokens, jsonOutput: cfg.JSONOutput}, nil
}

func (g *GeminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &g.model}, opts...)

	system, contents := toGeminiContents(input)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini generate: no user content")
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if options.Temperature != nil {
		temp := *options.Temperature
		cfg.Temperature = &temp
	}
	if options.TopP != nil {
		topP := *options.TopP
		cfg.TopP = &topP
	}
	switch {
	case options.MaxTokens != nil:
		cfg.MaxOutputTokens = int32(*options.MaxTokens)
	case g.maxTokens > 0:
		cfg.MaxOutputTokens = int32(g.maxTokens)
	}
	if g.jsonOutput {
		cfg.ResponseMIMEType = "application/json"
	}

	name := g.model
	if options.Model != nil && *options.Model != "" {
		name = *options.Model
	}

	res, err := g.client.Models.GenerateContent(ctx, name, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	text := res.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned empty text")
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream 不做真正的增量输出，分类场景只需要完整回复。
func (g *GeminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := g.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// toGeminiContents folds system messages into one instruction and maps the
// rest onto user/model turns.
func toGeminiContents(input []*schema.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(input))
	for _, msg := range input {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
