package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/stagegate/pkg/analyzer"
	"github.com/pario-ai/stagegate/pkg/cache/sqlite"
	"github.com/pario-ai/stagegate/pkg/engine"
	"github.com/pario-ai/stagegate/pkg/models"
)

// errNeedsApproval is returned by resolve when the decision is suggest and
// the caller has not approved the run.
var errNeedsApproval = errors.New("decision is suggest: rerun with --approve to run it anyway")

// taskFlags are the analysis inputs shared by route and resolve.
type taskFlags struct {
	analysis string
	score    int
	tokens   int64
	pattern  string
	task     string
	budget   int64
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.analysis, "analysis", "", "analyzer JSON file, or - for stdin")
	cmd.Flags().IntVar(&f.score, "score", 0, "complexity score (overrides --analysis)")
	cmd.Flags().Int64Var(&f.tokens, "tokens", 0, "estimated tokens (overrides --analysis)")
	cmd.Flags().StringVar(&f.pattern, "pattern", "", "recommended pattern (overrides --analysis)")
	cmd.Flags().StringVar(&f.task, "task", "", "task description (overrides --analysis)")
	cmd.Flags().Int64Var(&f.budget, "budget", 0, "token budget (default: remaining budget from policies)")
}

// resolve merges the analysis file with explicit flags.
func (f *taskFlags) resolve(cmd *cobra.Command) (models.TaskAnalysis, *int64, error) {
	var task models.TaskAnalysis
	if f.analysis != "" {
		data, err := readInput(cmd, f.analysis)
		if err != nil {
			return task, nil, err
		}
		task, err = analyzer.Parse(data)
		if err != nil {
			return task, nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("score") {
		task.ComplexityScore = f.score
	}
	if flags.Changed("tokens") {
		task.EstimatedTokens = f.tokens
	}
	if flags.Changed("pattern") {
		task.RecommendedPattern = f.pattern
	}
	if flags.Changed("task") {
		task.Task = f.task
	}
	var budget *int64
	if flags.Changed("budget") {
		budget = &f.budget
	}
	return task, budget, nil
}

func newRouteCmd(a *app) *cobra.Command {
	var (
		tf     taskFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Decide whether to skip, suggest or auto-approve stage 2 analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			task, budget, err := tf.resolve(cmd)
			if err != nil {
				return err
			}
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			d := rt.engine.Decide(cmd.Context(), task, budget)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			return printDecision(cmd, d)
		},
	}
	tf.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	var (
		tf      taskFlags
		key     string
		query   string
		approve bool
	)
	cmd := &cobra.Command{
		Use:   "resolve [flags] -- COMMAND [ARGS...]",
		Short: "Serve COMMAND's output from cache, or route and run it",
		Long: `Resolve looks up the response by --key and --query. On a miss it routes
the task and runs COMMAND. Output of skip and auto_approve runs is cached.
A suggest decision only runs with --approve, which also records approval.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, budget, err := tf.resolve(cmd)
			if err != nil {
				return err
			}
			if key == "" && query != "" {
				key = sqlite.HashKey(query)
			}
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			compute := func(ctx context.Context, d models.RoutingDecision) ([]byte, error) {
				if d.Decision == models.DecisionSuggest {
					if !approve {
						return nil, errNeedsApproval
					}
					if err := rt.engine.Policy().RecordFeedback(ctx, d.Band, true, "approved via resolve"); err != nil {
						return nil, err
					}
				}
				c := exec.CommandContext(ctx, args[0], args[1:]...)
				c.Stdin = cmd.InOrStdin()
				c.Stderr = os.Stderr
				return c.Output()
			}

			res, err := rt.engine.Resolve(cmd.Context(), engine.Request{
				Key:         key,
				Query:       query,
				Task:        task,
				TokenBudget: budget,
			}, compute)
			if res.Decision != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "stagegate: %s (%s band): %s\n",
					res.Decision.Decision, res.Decision.Band, res.Decision.Reason)
			}
			if err != nil {
				if errors.Is(err, errNeedsApproval) {
					return errNeedsApproval
				}
				return err
			}
			if res.Source == engine.SourceExact || res.Source == engine.SourceSemantic {
				fmt.Fprintf(cmd.ErrOrStderr(), "stagegate: %s cache hit\n", res.Source)
			}
			_, err = cmd.OutOrStdout().Write(res.Response)
			return err
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVar(&key, "key", "", "exact cache key (default: hash of --query)")
	cmd.Flags().StringVar(&query, "query", "", "query text for the semantic cache")
	cmd.Flags().BoolVar(&approve, "approve", false, "run even if the decision is suggest, recording approval")
	return cmd
}

func printDecision(cmd *cobra.Command, d models.RoutingDecision) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Decision:\t%s\n", d.Decision)
	fmt.Fprintf(w, "Band:\t%s (score %d)\n", d.Band, d.ComplexityScore)
	fmt.Fprintf(w, "Reason:\t%s\n", d.Reason)
	fmt.Fprintf(w, "Estimated tokens:\t%s\n", humanize.Comma(d.EstimatedTokens))
	fmt.Fprintf(w, "Token budget:\t%s\n", humanize.Comma(d.TokenBudget))
	if d.RecommendedPattern != "" {
		fmt.Fprintf(w, "Pattern:\t%s\n", d.RecommendedPattern)
	}
	if d.ApprovalRate != nil {
		fmt.Fprintf(w, "Approval rate:\t%.2f\n", *d.ApprovalRate)
	}
	return w.Flush()
}
