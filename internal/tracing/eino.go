package tracing

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
)

// CallbackHandler returns an eino handler that opens a span for every
// component run and closes it on end or error. Pass it with
// compose.WithCallbacks when invoking a chain or graph.
func (t *Tracer) CallbackHandler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			ctx, span := t.StartSpan(ctx, spanName(info), spanTypeOf(info))
			span.SetAttribute("eino.component", string(info.Component))
			if info.Type != "" {
				span.SetAttribute("eino.type", info.Type)
			}
			span.SetInputs(callbackInput(info, input))
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			span := SpanFromContext(ctx)
			if span == nil {
				return ctx
			}
			span.SetOutputs(callbackOutput(info, output, span))
			span.End()
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			span := SpanFromContext(ctx)
			if span == nil {
				return ctx
			}
			span.RecordError(err)
			span.End()
			return ctx
		}).
		Build()
}

func spanName(info *callbacks.RunInfo) string {
	switch {
	case info.Name != "":
		return info.Name
	case info.Type != "":
		return info.Type + string(info.Component)
	default:
		return string(info.Component)
	}
}

func spanTypeOf(info *callbacks.RunInfo) SpanType {
	switch info.Component {
	case components.ComponentOfChatModel:
		return SpanChatModel
	case components.ComponentOfTool, compose.ComponentOfToolsNode:
		return SpanTool
	case components.ComponentOfRetriever:
		return SpanRetriever
	case components.ComponentOfPrompt, compose.ComponentOfChain, compose.ComponentOfLambda:
		return SpanChain
	case compose.ComponentOfGraph, compose.ComponentOfWorkflow:
		return SpanAgent
	}
	return SpanUnknown
}

func callbackInput(info *callbacks.RunInfo, input callbacks.CallbackInput) any {
	switch info.Component {
	case components.ComponentOfChatModel:
		if in := model.ConvCallbackInput(input); in != nil {
			return map[string]any{"messages": in.Messages}
		}
	case components.ComponentOfPrompt:
		if in := prompt.ConvCallbackInput(input); in != nil {
			return in.Variables
		}
	}
	return input
}

func callbackOutput(info *callbacks.RunInfo, output callbacks.CallbackOutput, span *Span) any {
	switch info.Component {
	case components.ComponentOfChatModel:
		out := model.ConvCallbackOutput(output)
		if out == nil {
			break
		}
		if u := out.TokenUsage; u != nil {
			span.SetAttribute("llm.token_usage.prompt_tokens", u.PromptTokens)
			span.SetAttribute("llm.token_usage.completion_tokens", u.CompletionTokens)
			span.SetAttribute("llm.token_usage.total_tokens", u.TotalTokens)
		}
		return out.Message
	case components.ComponentOfPrompt:
		if out := prompt.ConvCallbackOutput(output); out != nil {
			return out.Result
		}
	}
	return output
}
