package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/store"
)

var (
	insightsReports int
	insightsJSON    bool
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Show per-domain accuracy history and recent evaluation reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		return printInsights(ctx, st, insightsReports, cmd.OutOrStdout())
	},
}

func init() {
	insightsCmd.Flags().IntVar(&insightsReports, "reports", 5, "number of recent reports to list")
	insightsCmd.Flags().BoolVar(&insightsJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(insightsCmd)
}

type historyStore interface {
	store.InsightStore
	store.ReportStore
}

func printInsights(ctx context.Context, st historyStore, reports int, w io.Writer) error {
	insights, err := st.ListInsights(ctx)
	if err != nil {
		return err
	}
	var recent []model.EvaluationReport
	if reports > 0 {
		if recent, err = st.ListReports(ctx, reports); err != nil {
			return err
		}
	}

	if insightsJSON {
		return writeJSON(w, map[string]any{"insights": insights, "reports": recent})
	}

	if len(insights) == 0 {
		fmt.Fprintln(w, "No evaluation history yet. Run `vintagevision eval smoke` first.")
	} else {
		fmt.Fprintln(w, renderInsights(insights))
	}

	if len(recent) > 0 {
		rows := make([][]string, 0, len(recent))
		for _, r := range recent {
			rows = append(rows, []string{
				r.ID,
				string(r.Mode),
				r.CompletedAt.Format("2006-01-02 15:04"),
				fmt.Sprintf("%d/%d", r.Scored, r.Total),
				fmt.Sprintf("%.1f", r.Mean),
				pct(r.PassRate),
			})
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable([]string{"Report", "Mode", "Completed", "Scored", "Mean", "Pass rate"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight}))
	}
	return nil
}
