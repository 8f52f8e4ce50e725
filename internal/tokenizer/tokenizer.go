// Package tokenizer defines the Tokenizer capability injected into the
// commit and compile layers (spec.md §6): count(text) -> non-negative
// integer. No tokenizer library appears in any example repo's go.mod (the
// corpus's tokenization needs are all delegated to the model provider
// itself), so the default implementation here is a standard-library
// heuristic estimator rather than a wired third-party dependency — see
// DESIGN.md for that justification. Real deployments bind a model-family-
// specific implementation of this interface and register it on the
// handle.
package tokenizer

import "unicode/utf8"

// Tokenizer counts tokens for a piece of text or a structured payload
// (already flattened to its textual form by the caller).
type Tokenizer interface {
	Count(text string) int
}

// Heuristic is the default Tokenizer: roughly 4 characters (runes) per token, the same
// order-of-magnitude approximation commonly quoted for English text against
// BPE-style tokenizers. It never returns a negative count.
type Heuristic struct{}

// Count implements Tokenizer.
func (Heuristic) Count(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	count := (n + 3) / 4
	if count < 1 {
		count = 1
	}
	return count
}

// New returns the default heuristic tokenizer.
func New() Tokenizer { return Heuristic{} }
