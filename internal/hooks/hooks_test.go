package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFire_NoHandlerAutonomousAutoApproves(t *testing.T) {
	r := NewRegistry()
	d, err := r.Fire(context.Background(), &Pending{Operation: "commit", Mode: "autonomous"})
	require.NoError(t, err)
	require.Equal(t, DecisionApprove, d)
}

func TestFire_NoHandlerCollaborativeReturnsPending(t *testing.T) {
	r := NewRegistry()
	d, err := r.Fire(context.Background(), &Pending{Operation: "compress", Mode: "collaborative"})
	require.NoError(t, err)
	require.Equal(t, DecisionPending, d)
}

func TestFire_HandlerCanModifyFields(t *testing.T) {
	r := NewRegistry()
	r.Register("commit", func(ctx context.Context, p *Pending) (Decision, error) {
		p.Fields["message"] = "edited by handler"
		return DecisionModify, nil
	})

	p := &Pending{Operation: "commit", Fields: map[string]any{"message": "original"}}
	d, err := r.Fire(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, DecisionModify, d)
	require.Equal(t, "edited by handler", p.Fields["message"])
}

func TestFire_ReentrantCallAutoApproves(t *testing.T) {
	r := NewRegistry()
	var nestedDecision Decision
	r.Register("compress", func(ctx context.Context, p *Pending) (Decision, error) {
		var err error
		nestedDecision, err = r.Fire(ctx, &Pending{Operation: "compress"})
		require.NoError(t, err)
		return DecisionApprove, nil
	})

	_, err := r.Fire(context.Background(), &Pending{Operation: "compress"})
	require.NoError(t, err)
	require.Equal(t, DecisionApprove, nestedDecision)
}
