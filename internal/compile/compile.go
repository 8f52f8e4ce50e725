// Package compile implements the deterministic projection of a commit
// chain into the ordered message sequence a model sees: chain collection
// with merge-parent expansion, EDIT override resolution, annotation-based
// filtering, pluggable rendering, and an LRU cache fingerprinted by head
// and annotation/compiler state. It is the compile engine from spec.md
// §4.D, grounded on the teacher's layered storage/compute split (compile
// reads storage, never writes it) and on the generic LRU cache pattern
// hashicorp/golang-lru/v2 brings into the module.
package compile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/WilliamJin123/tract-sub000/internal/debug"
	"github.com/WilliamJin123/tract-sub000/internal/store"
	"github.com/WilliamJin123/tract-sub000/internal/tokenizer"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// Options configures an Engine.
type Options struct {
	Compiler    Compiler // defaults to DefaultCompiler{}
	Tokenizer   tokenizer.Tokenizer
	CacheSize   int  // defaults to 256
	VerifyCache bool // debug mode: recompute on every hit, log a token-count or message-count difference, return the fresh result (no error on mismatch)
}

// Engine is the compile engine bound to one Storage. It holds no mutable
// state of its own beyond the cache — compiling never writes to Storage
// except the optional compile-record append a recording caller asks for.
type Engine struct {
	store    store.Storage
	compiler Compiler
	tok      tokenizer.Tokenizer
	cache    *lru.Cache[cacheKey, types.CompiledContext]
	verify   bool
}

// New builds an Engine over s.
func New(s store.Storage, opts Options) (*Engine, error) {
	compiler := opts.Compiler
	if compiler == nil {
		compiler = DefaultCompiler{}
	}
	tok := opts.Tokenizer
	if tok == nil {
		tok = tokenizer.New()
	}
	cache, err := newCache(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("compile: new cache: %w", err)
	}
	return &Engine{store: s, compiler: compiler, tok: tok, cache: cache, verify: opts.VerifyCache}, nil
}

// Request names what to compile: an explicit head commit, or (if empty) the
// tract's current HEAD — which must be attached if the result is later used
// to drive a write-leading operation.
type Request struct {
	TractID string
	Head    string // explicit head commit hash; empty means resolve current HEAD
	Branch  string // set by the caller when Head was resolved from a branch
	Record  bool   // persist a compile record when true
	TriggeredBy string
}

// Compile produces the CompiledContext for req, serving from cache when
// possible.
func (e *Engine) Compile(ctx context.Context, req Request) (types.CompiledContext, error) {
	head := req.Head
	branch := req.Branch
	if head == "" {
		hs, err := e.store.Head(ctx, req.TractID)
		if err != nil {
			return types.CompiledContext{}, fmt.Errorf("compile: resolve head: %w", err)
		}
		if hs.Attached {
			branch = hs.Branch
			resolved, err := e.store.ResolveRef(ctx, req.TractID, hs.Branch)
			if err != nil && !errors.Is(err, types.ErrUnknownRef) {
				return types.CompiledContext{}, fmt.Errorf("compile: %w", types.ErrDetachedHead)
			}
			// An unknown branch ref leaves head empty: the tract has no
			// commits yet and compiles to an empty context below.
			head = resolved
		} else {
			head = hs.Commit
		}
	}
	if head == "" {
		// Empty tract: no commits yet. Boundary behavior per spec.md §4.D:
		// empty compile is an empty message list, zero tokens.
		return types.CompiledContext{Branch: branch}, nil
	}

	gen, err := e.store.AnnotationGeneration(ctx, req.TractID)
	if err != nil {
		return types.CompiledContext{}, fmt.Errorf("compile: annotation generation: %w", err)
	}
	key := cacheKey{
		tractID:               req.TractID,
		headHash:              head,
		annotationFingerprint: annotationFingerprint(gen),
		compilerFingerprint:   e.compiler.Fingerprint(),
	}

	if cached, ok := e.cache.Get(key); ok {
		if !e.verify {
			return e.withRecord(ctx, req, cached, branch)
		}
		fresh, err := e.compute(ctx, req.TractID, head, branch)
		if err != nil {
			return types.CompiledContext{}, err
		}
		if fresh.TokenCount != cached.TokenCount || len(fresh.Messages) != len(cached.Messages) {
			debug.Logf("compile: verify_cache mismatch for %s/%s", req.TractID, head)
		}
		return e.withRecord(ctx, req, fresh, branch)
	}

	fresh, err := e.compute(ctx, req.TractID, head, branch)
	if err != nil {
		return types.CompiledContext{}, err
	}
	e.cache.Add(key, fresh)
	return e.withRecord(ctx, req, fresh, branch)
}

// Invalidate drops every cached entry for a tract's given head — used when
// a ref update (reset, checkout of a new commit as a branch head, merge,
// rebase) makes a previously-computed head stale for the same annotation
// generation (a rare case: the head commit hash itself never changes
// meaning, but a caller recomputing under a synthetic head can call this
// directly instead of relying on annotation-generation invalidation).
// Invalidate drops cached entries for tractID at head. An empty head drops
// every cached entry for the tract, for callers (compress, gc) that move
// a ref through several intermediate commits within one operation and
// can't name a single prior head.
func (e *Engine) Invalidate(tractID, head string) {
	for _, k := range e.cache.Keys() {
		if k.tractID == tractID && (head == "" || k.headHash == head) {
			e.cache.Remove(k)
		}
	}
}

func (e *Engine) withRecord(ctx context.Context, req Request, cc types.CompiledContext, branch string) (types.CompiledContext, error) {
	cc.Branch = branch
	if !req.Record {
		return cc, nil
	}
	recordID, rows, err := e.buildCompileRecord(ctx, req.TractID, cc)
	if err != nil {
		return types.CompiledContext{}, err
	}
	rec := types.CompileRecord{
		RecordID:    recordID,
		TractID:     req.TractID,
		HeadHash:    cc.HeadHash,
		BranchName:  branch,
		TokenCount:  cc.TokenCount,
		TriggeredBy: req.TriggeredBy,
	}
	rec.CreatedAt = time.Now().UTC()
	if err := e.store.RecordCompile(ctx, rec, rows); err != nil {
		return types.CompiledContext{}, fmt.Errorf("compile: record compile: %w", err)
	}
	cc.RecordID = recordID
	return cc, nil
}

func (e *Engine) compute(ctx context.Context, tractID, head, branch string) (types.CompiledContext, error) {
	chain, err := collectChain(ctx, e.store, head)
	if err != nil {
		return types.CompiledContext{}, err
	}

	editMap, suppressed, err := buildEditMap(ctx, e.store, chain)
	if err != nil {
		return types.CompiledContext{}, err
	}

	effective, err := e.materialize(ctx, tractID, chain, editMap, suppressed)
	if err != nil {
		return types.CompiledContext{}, err
	}

	messages, err := e.compiler.Render(effective, e.tok)
	if err != nil {
		return types.CompiledContext{}, fmt.Errorf("compile: render: %w", err)
	}

	usage := tallyUsage(effective, messages)

	return types.CompiledContext{
		Messages:   messages,
		TokenCount: usage.Total,
		Usage:      usage,
		HeadHash:   head,
		Branch:     branch,
	}, nil
}

// buildEditMap scans chain and constructs target_hash -> effective
// content_hash as the most-recent EDIT per target, per spec.md §4.D step 2.
// EDIT commits themselves are returned in the suppressed set.
func buildEditMap(ctx context.Context, s store.Storage, chain []string) (map[string]string, map[string]bool, error) {
	editMap := map[string]string{}
	suppressed := map[string]bool{}
	for _, h := range chain {
		c, err := s.GetCommit(ctx, h)
		if err != nil {
			return nil, nil, fmt.Errorf("compile: get commit %s: %w", h, err)
		}
		if c.Operation != types.OpEdit {
			continue
		}
		if c.EditTarget == "" {
			return nil, nil, fmt.Errorf("compile: %w: %s", types.ErrEditTargetMissing, h)
		}
		editMap[c.EditTarget] = c.ContentHash
		suppressed[h] = true
	}
	return editMap, suppressed, nil
}

// materialize applies annotation filtering and EDIT substitution, per
// spec.md §4.D steps 3-4.
func (e *Engine) materialize(ctx context.Context, tractID string, chain []string, editMap map[string]string, suppressed map[string]bool) ([]EffectiveCommit, error) {
	out := make([]EffectiveCommit, 0, len(chain))
	for _, h := range chain {
		if suppressed[h] {
			continue
		}
		priority, err := e.store.PriorityOf(ctx, tractID, h)
		if err != nil {
			return nil, fmt.Errorf("compile: priority of %s: %w", h, err)
		}
		if priority == types.PrioritySkip {
			continue
		}

		c, err := e.store.GetCommit(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("compile: get commit %s: %w", h, err)
		}
		contentHash := c.ContentHash
		if effective, ok := editMap[h]; ok {
			contentHash = effective
		}

		raw, found, err := e.store.GetBlob(ctx, contentHash)
		if err != nil {
			return nil, fmt.Errorf("compile: get blob %s: %w", contentHash, err)
		}
		if !found {
			return nil, fmt.Errorf("compile: %w: %s", types.ErrMissingBlob, contentHash)
		}
		var payload types.Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("compile: %w: unmarshal blob %s: %v", types.ErrCorruptHash, contentHash, err)
		}

		out = append(out, EffectiveCommit{CommitHash: h, Payload: payload, Priority: priority})
	}
	return out, nil
}

func tallyUsage(effective []EffectiveCommit, messages []types.Message) types.TokenUsage {
	var usage types.TokenUsage
	kindByCommit := make(map[string]types.ContentKind, len(effective))
	for _, c := range effective {
		kindByCommit[c.CommitHash] = c.Payload.Kind
	}
	for _, m := range messages {
		usage.Total += m.Tokens
		switch kindByCommit[m.SourceCommit] {
		case types.KindDialogue:
			usage.Dialogue += m.Tokens
		case types.KindInstruction:
			usage.Instruction += m.Tokens
		case types.KindToolCall, types.KindToolResult:
			usage.Tool += m.Tokens
		default:
			usage.Opaque += m.Tokens
		}
	}
	return usage
}

func (e *Engine) buildCompileRecord(ctx context.Context, tractID string, cc types.CompiledContext) (string, []types.CompileEffectiveRow, error) {
	recordID := uuid.NewString()
	rows := make([]types.CompileEffectiveRow, 0, len(cc.Messages))
	for i, m := range cc.Messages {
		priority, err := e.store.PriorityOf(ctx, tractID, m.SourceCommit)
		if err != nil {
			return "", nil, fmt.Errorf("compile: priority of %s for record: %w", m.SourceCommit, err)
		}
		rows = append(rows, types.CompileEffectiveRow{
			RecordID:          recordID,
			Position:          i,
			CommitHash:        m.SourceCommit,
			EffectivePriority: priority,
		})
	}
	return recordID, rows, nil
}
