// Package agent is the GenAI agent logged by the smoke test: an eino chain
// of a chat template and a chat model, with per-session history.
package agent

import (
	"context"
	"fmt"
	"strings"

	"databricks_smoke/internal/config"
	"databricks_smoke/internal/conversation"
	"databricks_smoke/internal/logger"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

const (
	GraphName     = "genai_agent"
	systemPrompt  = "You are a concise assistant. Answer the user's question in one or two sentences."
	historyKey    = "history"
	questionKey   = "question"
	defaultSessID = "smoke"
)

// Agent answers questions through a compiled eino chain.
type Agent struct {
	provider string
	model    string
	runnable compose.Runnable[map[string]any, *schema.Message]
	repo     conversation.Repository
	strategy conversation.ContextStrategy
	handlers []callbacks.Handler
}

type Option func(*Agent)

// WithCallbacks attaches eino callback handlers to every invocation.
func WithCallbacks(h ...callbacks.Handler) Option {
	return func(a *Agent) { a.handlers = append(a.handlers, h...) }
}

// WithRepository replaces the in-memory history store.
func WithRepository(repo conversation.Repository) Option {
	return func(a *Agent) { a.repo = repo }
}

// New builds the chat model for cfg and compiles the chain.
func New(ctx context.Context, cfg config.LLMConfig, opts ...Option) (*Agent, error) {
	cm, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder(historyKey, true),
		schema.UserMessage("{"+questionKey+"}"),
	)
	runnable, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(tpl, compose.WithNodeName("prompt")).
		AppendChatModel(cm, compose.WithNodeName("chat_model")).
		Compile(ctx, compose.WithGraphName(GraphName))
	if err != nil {
		return nil, fmt.Errorf("failed to compile agent chain: %w", err)
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderMock
	}
	a := &Agent{
		provider: provider,
		model:    ModelName(cfg),
		runnable: runnable,
		repo:     conversation.NewMemoryRepository(),
		strategy: conversation.NewLastTurns(cfg.MaxTurns),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Agent) Provider() string { return a.provider }
func (a *Agent) Model() string    { return a.model }

// Ask answers question within sessionID, feeding the recent history to the
// model and recording the exchange.
func (a *Agent) Ask(ctx context.Context, sessionID, question string) (string, error) {
	if sessionID == "" {
		sessionID = defaultSessID
	}
	history, err := a.repo.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}

	input := map[string]any{
		questionKey: question,
		historyKey:  a.strategy.Select(history.Messages),
	}
	var invokeOpts []compose.Option
	if len(a.handlers) > 0 {
		invokeOpts = append(invokeOpts, compose.WithCallbacks(a.handlers...))
	}
	answer, err := a.runnable.Invoke(ctx, input, invokeOpts...)
	if err != nil {
		return "", fmt.Errorf("agent invocation failed: %w", err)
	}

	if err := a.repo.AddMessages(ctx, sessionID, schema.UserMessage(question), answer); err != nil {
		logger.Warn().Err(err).Str("session", sessionID).Msg("failed to record conversation")
	}
	return answer.Content, nil
}

// Predict accepts {"question": ...} or any value, which is stringified.
func (a *Agent) Predict(ctx context.Context, data any) (string, error) {
	if m, ok := data.(map[string]any); ok {
		if q, ok := m[questionKey]; ok {
			return a.Ask(ctx, "", fmt.Sprint(q))
		}
	}
	if s, ok := data.(string); ok {
		return a.Ask(ctx, "", s)
	}
	return a.Ask(ctx, "", fmt.Sprint(data))
}

// Describe is the agent configuration stored with the logged model.
func (a *Agent) Describe() map[string]any {
	return map[string]any{
		"agent_type":    "eino_chain",
		"graph":         GraphName,
		"provider":      a.provider,
		"model_name":    a.model,
		"max_turns":     a.strategy.MaxTurns(),
		"system_prompt": systemPrompt,
		"input_schema":  []string{questionKey},
	}
}
