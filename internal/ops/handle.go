// Package ops implements the structural operations from spec.md §4.E:
// commit, branch/switch/reset/checkout, merge, rebase/import, compress,
// spawn/collapse and garbage collection. A Handle bundles one Storage, one
// compile.Engine and the hook registry/LLM resolver/tokenizer capabilities
// every operation shares — mirroring the teacher's pattern of a single
// long-lived client object threading storage, AI and telemetry through
// every command. Every mutating method here runs its writes inside
// Storage.WithTx, matching spec.md §4.E's "each mutating operation runs
// inside a transaction with a savepoint."
package ops

import (
	"time"

	"github.com/google/uuid"

	"github.com/WilliamJin123/tract-sub000/internal/compile"
	"github.com/WilliamJin123/tract-sub000/internal/hooks"
	"github.com/WilliamJin123/tract-sub000/internal/llm"
	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/tokenizer"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// Options configures a Handle.
type Options struct {
	Tokenizer tokenizer.Tokenizer
	Resolver  llm.Resolver // required for semantic merge, compress, collapse
	Hooks     *hooks.Registry
	Configs   types.OperationConfigs
	// Mode is the default collaborative/autonomous mode for compress and
	// any other hook-gated operation that doesn't specify one explicitly.
	Mode string
}

// Handle is a tract-store session: one Storage, one compile Engine, and
// the capabilities operations are injected with. Not safe for concurrent
// use — the single-threaded-per-handle model from spec.md §5.
type Handle struct {
	Store    store.Storage
	Compile  *compile.Engine
	Hooks    *hooks.Registry
	Resolver llm.Resolver
	Tok      tokenizer.Tokenizer
	Configs  types.OperationConfigs
	Mode     string
}

// New builds a Handle over an already-open Storage.
func New(s store.Storage, opts Options) (*Handle, error) {
	tok := opts.Tokenizer
	if tok == nil {
		tok = tokenizer.New()
	}
	hookRegistry := opts.Hooks
	if hookRegistry == nil {
		hookRegistry = hooks.NewRegistry()
	}
	mode := opts.Mode
	if mode == "" {
		mode = "autonomous"
	}

	engine, err := compile.New(s, compile.Options{Tokenizer: tok})
	if err != nil {
		return nil, err
	}

	return &Handle{
		Store:    s,
		Compile:  engine,
		Hooks:    hookRegistry,
		Resolver: opts.Resolver,
		Tok:      tok,
		Configs:  opts.Configs,
		Mode:     mode,
	}, nil
}

// resolveLLMConfig implements the call > operation > handle precedence
// from spec.md §6.
func resolveLLMConfig(handleDefault, opDefault, call types.LLMConfig) types.LLMConfig {
	return handleDefault.Merge(opDefault).Merge(call)
}

func newEventID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
