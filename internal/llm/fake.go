package llm

import (
	"context"

	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// Fake is a scriptable Resolver for tests: it returns Responses in order,
// looping the last one once exhausted, and records every call it received.
type Fake struct {
	Responses []string
	Err       error
	Calls     []ChatMessage // flattened: every message from every Chat call, in order
	callCount int
}

var _ Resolver = (*Fake)(nil)

// Chat implements Resolver.
func (f *Fake) Chat(ctx context.Context, messages []ChatMessage, cfg types.LLMConfig) (types.ChatResponse, error) {
	f.Calls = append(f.Calls, messages...)
	if f.Err != nil {
		return types.ChatResponse{}, f.Err
	}
	if len(f.Responses) == 0 {
		return types.ChatResponse{Text: ""}, nil
	}
	idx := f.callCount
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	f.callCount++
	return types.ChatResponse{Text: f.Responses[idx], Model: cfg.Model}, nil
}
