// Command tractl is a thin cobra wrapper over internal/ops — a CLI is named
// an external collaborator in scope terms, so this stays a dispatch layer
// with no logic of its own: every command parses flags, builds an ops.Handle
// and prints JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/WilliamJin123/tract-sub000/internal/compile"
	"github.com/WilliamJin123/tract-sub000/internal/config"
	"github.com/WilliamJin123/tract-sub000/internal/debug"
	"github.com/WilliamJin123/tract-sub000/internal/llm"
	"github.com/WilliamJin123/tract-sub000/internal/ops"
	"github.com/WilliamJin123/tract-sub000/internal/store/factory"
	_ "github.com/WilliamJin123/tract-sub000/internal/store/sqlite"
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

var (
	dbPath  string
	tractID string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tractl",
	Short: "tractl manages tract-store contexts: commit, branch, merge, compress, spawn.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "tract.db", "path to the sqlite tract store")
	rootCmd.PersistentFlags().StringVar(&tractID, "tract", "", "tract id (required)")
	rootCmd.AddCommand(
		commitCmd(),
		branchCmd(),
		switchCmd(),
		checkoutCmd(),
		resetCmd(),
		annotateCmd(),
		mergeCmd(),
		rebaseCmd(),
		cherryPickCmd(),
		compressCmd(),
		compileCmd(),
		gcCmd(),
		spawnCmd(),
		collapseCmd(),
	)
}

// openHandle opens the configured store and builds an ops.Handle wired with
// an Anthropic resolver when ANTHROPIC_API_KEY is set (merge/compress/
// collapse's semantic paths return ErrResolverRefused without one).
func openHandle(ctx context.Context) (*ops.Handle, func(), error) {
	if tractID == "" {
		return nil, nil, fmt.Errorf("--tract is required")
	}
	s, err := factory.New(ctx, "sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	var resolver llm.Resolver
	if r, err := llm.NewAnthropicResolver("", "", "tractl"); err == nil {
		resolver = r
	} else {
		debug.Logf("tractl: no LLM resolver configured: %v", err)
	}

	h, err := ops.New(s, ops.Options{
		Resolver: resolver,
		Configs:  config.Defaults(),
		Mode:     "autonomous",
	})
	if err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("build handle: %w", err)
	}

	return h, func() { _ = s.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commitCmd() *cobra.Command {
	var text, message, kind string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Append one commit onto HEAD.",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			payload := types.Payload{Kind: types.ContentKind(kind), Text: text}
			if payload.Kind == "" {
				payload.Kind = types.KindDialogue
				payload.Role = "user"
			}
			out, err := h.Commit(cmd.Context(), ops.CommitArgs{
				TractID: tractID,
				Payload: payload,
				Message: message,
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "commit text content")
	cmd.Flags().StringVar(&message, "message", "", "commit message (auto-generated when empty)")
	cmd.Flags().StringVar(&kind, "kind", "dialogue", "content kind: dialogue|instruction|opaque")
	return cmd
}

func branchCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "branch <name>",
		Short: "Create a named ref at a commit (defaults to HEAD).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return h.Branch(cmd.Context(), tractID, args[0], at)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "commit hash to branch from (defaults to HEAD)")
	return cmd
}

func switchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <branch>",
		Short: "Move HEAD's symbolic target to an existing branch.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return h.Switch(cmd.Context(), tractID, args[0])
		},
	}
}

func checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <commit>",
		Short: "Enter detached HEAD at an arbitrary commit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return h.Checkout(cmd.Context(), tractID, args[0])
		},
	}
}

func resetCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "reset <branch> <target-commit>",
		Short: "Move a branch ref back to an ancestor, soft or hard.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return h.Reset(cmd.Context(), tractID, args[0], args[1], ops.ResetMode(mode))
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "soft", "soft|hard")
	return cmd
}

func annotateCmd() *cobra.Command {
	var priority, reason string
	cmd := &cobra.Command{
		Use:   "annotate <commit>",
		Short: "Set a commit's priority overlay: NORMAL, PINNED, or SKIP.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return h.Annotate(cmd.Context(), tractID, args[0], types.Priority(priority), reason)
		},
	}
	cmd.Flags().StringVar(&priority, "priority", string(types.PriorityPinned), "NORMAL|PINNED|SKIP")
	cmd.Flags().StringVar(&reason, "reason", "", "free-text reason recorded alongside the annotation")
	return cmd
}

func mergeCmd() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "merge <source-ref>",
		Short: "Merge a branch or commit into HEAD's branch.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := h.Merge(cmd.Context(), ops.MergeArgs{
				TractID:   tractID,
				SourceRef: args[0],
				Strategy:  ops.MergeStrategy(strategy),
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", string(ops.MergeTextual), "textual|semantic")
	return cmd
}

func rebaseCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "rebase <onto-commit>",
		Short: "Replay a branch's diverged commits onto a new base.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := h.Rebase(cmd.Context(), ops.RebaseArgs{
				TractID: tractID,
				Branch:  branch,
				Onto:    args[0],
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "main", "branch to replay")
	return cmd
}

func cherryPickCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "cherry-pick <commit>",
		Short: "Replay one commit onto HEAD (or --branch) as a new commit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := h.CherryPick(cmd.Context(), ops.CherryPickArgs{
				TractID: tractID,
				Source:  args[0],
				Branch:  branch,
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "destination branch (defaults to attached HEAD)")
	return cmd
}

func compressCmd() *cobra.Command {
	var instructions string
	var targetTokens int
	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Cluster NORMAL commits and replace each cluster with a summary.",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := h.Compress(cmd.Context(), ops.CompressArgs{
				TractID:      tractID,
				Instructions: instructions,
				TargetTokens: targetTokens,
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra instructions appended to the summarization prompt")
	cmd.Flags().IntVar(&targetTokens, "target-tokens", 0, "token target; passed to compress, which does not use it")
	return cmd
}

func compileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Render HEAD's effective commit chain into messages.",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := h.Compile.Compile(cmd.Context(), compile.Request{TractID: tractID})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	return cmd
}

func gcCmd() *cobra.Command {
	var orphanRetention string
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove unreachable, unreferenced commits past their retention window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			var retention time.Duration
			if orphanRetention != "" {
				retention, err = time.ParseDuration(orphanRetention)
				if err != nil {
					return fmt.Errorf("invalid --orphan-retention: %w", err)
				}
			}
			out, err := h.GC(cmd.Context(), ops.GCArgs{TractID: tractID, OrphanRetention: retention})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&orphanRetention, "orphan-retention", "", "e.g. 168h; defaults to seven days")
	return cmd
}

func spawnCmd() *cobra.Command {
	var mode, branch, purpose, at string
	cmd := &cobra.Command{
		Use:   "spawn <child-tract-id>",
		Short: "Create a child tract inheriting from a parent commit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := h.Spawn(cmd.Context(), ops.SpawnArgs{
				ParentTractID: tractID,
				ParentCommit:  at,
				ChildTractID:  args[0],
				Mode:          types.InheritanceMode(mode),
				Branch:        branch,
				Purpose:       purpose,
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(types.InheritHeadSnapshot), "head_snapshot|full_clone|branch")
	cmd.Flags().StringVar(&branch, "branch", "main", "child branch name")
	cmd.Flags().StringVar(&purpose, "purpose", "", "free-text purpose annotation")
	cmd.Flags().StringVar(&at, "at", "", "parent commit to spawn from (defaults to parent HEAD)")
	return cmd
}

func collapseCmd() *cobra.Command {
	var instructions string
	cmd := &cobra.Command{
		Use:   "collapse <child-tract-id>",
		Short: "Fold a child tract's compiled context back into the parent as one commit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			out, err := h.Collapse(cmd.Context(), ops.CollapseArgs{
				ParentTractID: tractID,
				ChildTractID:  args[0],
				Instructions:  instructions,
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra instructions appended to the collapse prompt")
	return cmd
}
