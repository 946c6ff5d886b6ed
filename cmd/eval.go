package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/eval"
	"github.com/vintagevision/vintagevision/internal/model"
)

var (
	evalWorkers int
	evalSize    int
	evalJSON    bool
)

var evalCmd = &cobra.Command{
	Use:   "eval smoke|full|single <item-id>",
	Short: "Score the pipeline against the ground-truth corpus",
	Long:  "smoke runs a domain-stratified sample, full runs all items, single runs one item by id. Reports are saved and folded into per-domain insights.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if evalWorkers > 0 {
			cfg.Eval.Workers = evalWorkers
		}
		env, err := initApp(ctx, cfg, "eval")
		if err != nil {
			return err
		}
		defer env.Close()

		return runEvalMode(ctx, env.Harness, env.Corpus, args, cmd.OutOrStdout())
	},
}

func init() {
	evalCmd.Flags().IntVar(&evalWorkers, "workers", 0, "concurrent items (default from config)")
	evalCmd.Flags().IntVar(&evalSize, "size", 0, "smoke sample size (default from config)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(evalCmd)
}

// runEvalMode dispatches on args[0] and prints the result.
func runEvalMode(ctx context.Context, h *eval.Harness, corpus []model.GroundTruthItem, args []string, w io.Writer) error {
	var (
		report *model.EvaluationReport
		err    error
	)
	switch model.EvalMode(args[0]) {
	case model.EvalSmoke:
		size := evalSize
		if size <= 0 {
			size = h.SmokeSize()
		}
		report, err = h.RunSmoke(ctx, eval.SmokeSample(corpus, size))
	case model.EvalFull:
		report, err = h.RunFull(ctx, corpus)
	case model.EvalSingle:
		if len(args) < 2 {
			return apperr.Validation("eval single needs an item id")
		}
		item, ok := eval.FindItem(corpus, args[1])
		if !ok {
			return apperr.NotFound("ground-truth item %q not found", args[1])
		}
		res := h.RunSingle(ctx, item)
		if evalJSON {
			return writeJSON(w, res)
		}
		fmt.Fprintln(w, renderScore(res))
		return nil
	default:
		return apperr.Validation("unknown eval mode %q (want smoke, full or single)", args[0])
	}
	if err != nil {
		return err
	}

	if evalJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintln(w, renderReport(report))
	return nil
}
