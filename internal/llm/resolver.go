// Package llm defines the Resolver capability injected into semantic
// merge, compress and collapse (spec.md §6), plus an Anthropic-backed
// implementation grounded on the teacher's internal/compact haikuClient —
// same client, model config and OTel/audit wiring, with the hand-rolled
// exponential-backoff loop replaced by cenkalti/backoff/v4 and the single
// summarization method generalized to the uniform chat(messages, config)
// contract every call site in this module shares.
package llm

import (
	"context"

	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// ChatMessage is one turn handed to a Resolver. Role follows the same
// vocabulary compile/render produces ("system", "user", "assistant",
// "tool").
type ChatMessage struct {
	Role    string
	Content string
}

// Resolver is the injected LLM capability: chat(messages, config) ->
// response. Merge (semantic strategy), compress and collapse all depend on
// this interface, never on a concrete provider client directly.
type Resolver interface {
	Chat(ctx context.Context, messages []ChatMessage, cfg types.LLMConfig) (types.ChatResponse, error)
}
