package agent

import (
	"context"
	"fmt"
	"strings"

	"databricks_smoke/internal/config"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Providers accepted in LLM_PROVIDER.
const (
	ProviderMock     = "mock"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderDeepSeek = "deepseek"
	ProviderArk      = "ark"
)

var defaultModels = map[string]string{
	ProviderMock:     "gpt-3.5-turbo",
	ProviderOpenAI:   "gpt-4o-mini",
	ProviderOllama:   "llama3.2",
	ProviderDeepSeek: "deepseek-chat",
}

// ModelName is LLM_MODEL or the provider's default.
func ModelName(cfg config.LLMConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return defaultModels[strings.ToLower(cfg.Provider)]
}

// NewChatModel builds the chat model for cfg.Provider.
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	name := ModelName(cfg)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderMock:
		return NewMockChatModel(name), nil

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for provider %s", ProviderOpenAI)
		}
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   name,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating openai chat model: %w", err)
		}
		return cm, nil

	case ProviderOllama:
		cm, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.OllamaBaseURL,
			Model:   name,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating ollama chat model: %w", err)
		}
		return cm, nil

	case ProviderDeepSeek:
		if cfg.DeepSeekAPIKey == "" {
			return nil, fmt.Errorf("DEEPSEEK_API_KEY is required for provider %s", ProviderDeepSeek)
		}
		cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey: cfg.DeepSeekAPIKey,
			Model:  name,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating deepseek chat model: %w", err)
		}
		return cm, nil

	case ProviderArk:
		if cfg.ArkAPIKey == "" || name == "" {
			return nil, fmt.Errorf("ARK_API_KEY and LLM_MODEL (endpoint id) are required for provider %s", ProviderArk)
		}
		cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:  cfg.ArkAPIKey,
			BaseURL: cfg.ArkBaseURL,
			Model:   name,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating ark chat model: %w", err)
		}
		return cm, nil
	}
	return nil, fmt.Errorf("unknown LLM_PROVIDER %q (want mock, openai, ollama, deepseek or ark)", cfg.Provider)
}

// MockChatModel answers without calling a model service.
type MockChatModel struct {
	name  string
	tools []*schema.ToolInfo
}

func NewMockChatModel(name string) *MockChatModel {
	return &MockChatModel{name: name}
}

// GetType names the component in callbacks.
func (m *MockChatModel) GetType() string { return "Mock" }

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	question := ""
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == schema.User {
			question = input[i].Content
			break
		}
	}
	msg := schema.AssistantMessage(fmt.Sprintf("Mock response to: %s (from %s)", question, m.name), nil)
	msg.ResponseMeta = &schema.ResponseMeta{
		FinishReason: "stop",
		Usage: &schema.TokenUsage{
			PromptTokens:     len(strings.Fields(question)),
			CompletionTokens: len(strings.Fields(msg.Content)),
			TotalTokens:      len(strings.Fields(question)) + len(strings.Fields(msg.Content)),
		},
	}
	return msg, nil
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &MockChatModel{name: m.name, tools: tools}, nil
}
