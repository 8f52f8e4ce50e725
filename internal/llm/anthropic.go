package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/WilliamJin123/tract-sub000/internal/audit"
	"github.com/WilliamJin123/tract-sub000/internal/telemetry"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// errAPIKeyRequired is returned when an API key is needed but not provided.
var errAPIKeyRequired = errors.New("llm: ANTHROPIC_API_KEY required")

// AnthropicResolver is the default Resolver, backed by the Anthropic
// Messages API. Env var ANTHROPIC_API_KEY takes precedence over an
// explicit APIKey so deployments never need to thread a secret through
// config files.
type AnthropicResolver struct {
	client       anthropic.Client
	auditRoot    string // tract base dir; empty disables audit logging
	auditActor   string
	maxRetries   uint64
	initialDelay time.Duration
}

// NewAnthropicResolver constructs a resolver. auditRoot, when non-empty,
// enables best-effort JSONL audit logging of every call under auditRoot.
func NewAnthropicResolver(apiKey, auditRoot, auditActor string) (*AnthropicResolver, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	return &AnthropicResolver{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		auditRoot:    auditRoot,
		auditActor:   auditActor,
		maxRetries:   3,
		initialDelay: time.Second,
	}, nil
}

var _ Resolver = (*AnthropicResolver)(nil)

// aiMetrics holds lazily-initialized OTel instruments for Anthropic API
// calls, mirroring the teacher's internal/compact package-level metrics.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

func init() {
	m := telemetry.Meter("github.com/WilliamJin123/tract-sub000/llm")
	aiMetrics.inputTokens, _ = m.Int64Counter("tract.llm.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"), metric.WithUnit("{token}"))
	aiMetrics.outputTokens, _ = m.Int64Counter("tract.llm.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"), metric.WithUnit("{token}"))
	aiMetrics.duration, _ = m.Float64Histogram("tract.llm.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"), metric.WithUnit("ms"))
}

// Chat implements Resolver. System-role messages are concatenated into the
// API's top-level system prompt; every other role is sent as a user or
// assistant turn in order.
func (r *AnthropicResolver) Chat(ctx context.Context, messages []ChatMessage, cfg types.LLMConfig) (types.ChatResponse, error) {
	model := anthropic.Model(cfg.Model)
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var system strings.Builder
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  turns,
	}
	if system.Len() > 0 {
		params.System = []anthropic.TextBlockParam{{Text: system.String()}}
	}

	tracer := telemetry.Tracer("github.com/WilliamJin123/tract-sub000/llm")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(attribute.String("tract.llm.model", cfg.Model))

	var resp types.ChatResponse
	attempt := 0
	policy := backoff.WithContext(r.retryPolicy(), ctx)

	callErr := backoff.Retry(func() error {
		attempt++
		t0 := time.Now()
		message, err := r.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !isRetryable(err) {
				return backoff.Permanent(fmt.Errorf("llm: non-retryable: %w", types.ErrLLMTransport))
			}
			return fmt.Errorf("llm: attempt %d: %w", attempt, err)
		}

		modelAttr := attribute.String("tract.llm.model", cfg.Model)
		aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
		aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
		aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))

		if len(message.Content) == 0 || message.Content[0].Type != "text" {
			return backoff.Permanent(fmt.Errorf("llm: unexpected response shape"))
		}

		resp = types.ChatResponse{
			Text:  message.Content[0].Text,
			Model: string(message.Model),
			Usage: &types.Usage{
				PromptTokens:     int(message.Usage.InputTokens),
				CompletionTokens: int(message.Usage.OutputTokens),
			},
		}
		return nil
	}, policy)

	if r.auditRoot != "" {
		var prompt strings.Builder
		for _, m := range messages {
			fmt.Fprintf(&prompt, "%s: %s\n", m.Role, m.Content)
		}
		entry := &audit.Entry{Kind: "llm_call", Model: cfg.Model, Prompt: prompt.String(), Response: resp.Text}
		if callErr != nil {
			entry.Error = callErr.Error()
		}
		_, _ = audit.Append(r.auditRoot, entry)
	}

	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
		return types.ChatResponse{}, fmt.Errorf("llm: %w: %v", types.ErrLLMTransport, callErr)
	}
	return resp, nil
}

func (r *AnthropicResolver) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialDelay
	return backoff.WithMaxRetries(b, r.maxRetries)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
