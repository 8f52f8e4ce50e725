package compile

import (
	"fmt"

	"github.com/WilliamJin123/tract-sub000/internal/tokenizer"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// EffectiveCommit is one surviving, content-resolved commit handed to a
// Compiler for rendering.
type EffectiveCommit struct {
	CommitHash string
	Payload    types.Payload
	Priority   types.Priority
}

// Compiler renders a chain of effective commits into the ordered message
// sequence a model sees. Pluggable per spec.md §4.D ("rendering is
// pluggable via an injected compiler capability"); providers wire in
// provider-specific wire formats by implementing this interface. Output
// must be deterministic for identical inputs — no clocks, no randomness.
type Compiler interface {
	// Fingerprint identifies this compiler's rendering behavior for cache
	// keying: two Compiler values that render identically must return the
	// same fingerprint, and two that can render differently must not.
	Fingerprint() string
	Render(commits []EffectiveCommit, tok tokenizer.Tokenizer) ([]types.Message, error)
}

// DefaultCompiler concatenates surviving commits by role in stable chain
// order — the baseline rendering spec.md §4.D names as the default.
type DefaultCompiler struct{}

// Fingerprint implements Compiler.
func (DefaultCompiler) Fingerprint() string { return "default-role-concat-v1" }

// Render implements Compiler.
func (DefaultCompiler) Render(commits []EffectiveCommit, tok tokenizer.Tokenizer) ([]types.Message, error) {
	out := make([]types.Message, 0, len(commits))
	for _, c := range commits {
		msg, ok, err := renderOne(c, tok)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func renderOne(c EffectiveCommit, tok tokenizer.Tokenizer) (types.Message, bool, error) {
	p := c.Payload
	role, text, emits, err := roleAndText(p)
	if err != nil {
		return types.Message{}, false, err
	}
	if !emits {
		return types.Message{}, false, nil
	}
	return textMessage(c.CommitHash, role, text, tok), true, nil
}

// PayloadText renders a payload's textual content exactly the way
// rendering does, for callers (commit's token accounting) that need the
// same text a compile would emit without going through the full Compiler
// interface.
func PayloadText(p types.Payload) (string, error) {
	_, text, _, err := roleAndText(p)
	return text, err
}

// RoleAndText exposes roleAndText for callers (spawn's branch curation)
// that need a payload's role tag alongside its text, e.g. to filter by
// keep_tags without duplicating the content-kind dispatch.
func RoleAndText(p types.Payload) (role, text string, emits bool, err error) {
	return roleAndText(p)
}

func roleAndText(p types.Payload) (role, text string, emits bool, err error) {
	switch p.Kind {
	case types.KindDialogue:
		role = p.Role
		if role == "" {
			role = "user"
		}
		return role, p.Text, true, nil

	case types.KindInstruction:
		return "system", p.Text, true, nil

	case types.KindToolCall:
		return "assistant", fmt.Sprintf("tool_call:%s %s", p.ToolName, p.ToolArgs), true, nil

	case types.KindToolResult:
		content := p.ToolOutput
		if p.ToolError {
			content = "error: " + content
		}
		return "tool", content, true, nil

	case types.KindOpaque:
		return "user", p.Text, true, nil

	case types.KindSession, types.KindSpawn:
		return "", "", false, nil

	default:
		return "", "", false, fmt.Errorf("compile: unhandled content kind %q", p.Kind)
	}
}

func textMessage(commitHash, role, text string, tok tokenizer.Tokenizer) types.Message {
	return types.Message{
		Role:         role,
		Content:      text,
		SourceCommit: commitHash,
		Tokens:       tok.Count(text),
	}
}
