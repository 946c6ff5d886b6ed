package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/pipeline"
	"github.com/vintagevision/vintagevision/internal/session"
)

var (
	analyzePrice       float64
	analyzeContext     string
	analyzeJSON        bool
	analyzeInteractive bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>...",
	Short: "Identify an item from one or more photos",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, cfg, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.AnalysisRequest{ImageRefs: args, UserContext: analyzeContext}
		if cmd.Flags().Changed("price") {
			req.AskingPrice = &analyzePrice
		}

		out, err := env.Analysis.Stream(ctx, req, progressPrinter(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if analyzeJSON {
			return writeJSON(w, out)
		}
		fmt.Fprintln(w, renderOutcome(out))

		threshold := cfg.Session.ConfidenceThreshold
		if out.Confidence >= threshold {
			return nil
		}
		if analyzeInteractive {
			return runInteractive(ctx, env.Sessions, out.ID, threshold, cmd.InOrStdin(), w)
		}
		if needs := pipeline.DeriveNeeds(out); len(needs) > 0 {
			fmt.Fprintf(w, "\nConfidence is below %s. These would help:\n%s\n", pct(threshold), renderNeeds(needs))
			fmt.Fprintln(w, "Re-run with --interactive to provide them.")
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Float64Var(&analyzePrice, "price", 0, "asking price, for a deal rating")
	analyzeCmd.Flags().StringVar(&analyzeContext, "context", "", "anything known about the item (provenance, where found)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the outcome as JSON")
	analyzeCmd.Flags().BoolVarP(&analyzeInteractive, "interactive", "i", false, "answer follow-up questions when confidence is low")
	rootCmd.AddCommand(analyzeCmd)
}

// progressPrinter reports stage progress on w.
func progressPrinter(w io.Writer) pipeline.EventSink {
	return pipeline.SinkFunc(func(ev model.ProgressEvent) {
		switch ev.Type {
		case model.ProgressStageStart:
			fmt.Fprintf(w, "[%3d%%] %s\n", ev.Progress, ev.Message)
		case model.ProgressError:
			fmt.Fprintf(w, "[%3d%%] failed: %s\n", ev.Progress, ev.Message)
		case model.ProgressComplete:
			fmt.Fprintf(w, "[%3d%%] done\n", ev.Progress)
		}
	})
}

// sessionDriver is the part of the session manager the prompt loop uses.
type sessionDriver interface {
	Start(ctx context.Context, outcomeID string, opts session.StartOptions) (*model.InteractiveSession, error)
	Respond(ctx context.Context, id, needID string, kind model.EvidenceKind, content string) (*model.InteractiveSession, error)
	Reanalyze(ctx context.Context, id string) (*session.Result, error)
	Abandon(ctx context.Context, id string) (*model.InteractiveSession, error)
	FollowUp(ctx context.Context, id string) (*model.InteractiveSession, error)
}

// runInteractive asks for each open need on in, re-runs the analysis with
// the answers, and repeats until confidence reaches threshold, the user
// gives nothing, or the session manager refuses another round. Photo needs
// take an image path or URL.
func runInteractive(ctx context.Context, sessions sessionDriver, outcomeID string, threshold float64, in io.Reader, w io.Writer) error {
	s, err := sessions.Start(ctx, outcomeID, session.StartOptions{})
	if err != nil {
		return err
	}
	sc := bufio.NewScanner(in)
	eof := false

	for {
		open := make([]model.InformationNeed, 0, len(s.Needs))
		for _, n := range s.Needs {
			if !n.Resolved {
				open = append(open, n)
			}
		}

		answered := 0
		for _, n := range open {
			if eof {
				break
			}
			hint := "answer"
			if n.Kind == model.EvidencePhoto {
				hint = "photo path"
			}
			fmt.Fprintf(w, "\n[%s] %s\n%s (blank to skip)> ", n.Priority, n.Question, hint)
			if !sc.Scan() {
				eof = true
				break
			}
			answer := strings.TrimSpace(sc.Text())
			if answer == "" {
				continue
			}
			next, err := sessions.Respond(ctx, s.ID, n.ID, n.Kind, answer)
			if apperr.Is(err, apperr.KindValidation) {
				fmt.Fprintf(w, "Answer not accepted: %v\n", err)
				continue
			}
			if err != nil {
				return err
			}
			s = next
			answered++
		}

		if answered == 0 {
			if _, err := sessions.Abandon(ctx, s.ID); err != nil {
				return err
			}
			fmt.Fprintln(w, "\nNo new evidence; keeping the current identification.")
			return nil
		}

		fmt.Fprintln(w, "\nRe-analyzing with your evidence...")
		res, err := sessions.Reanalyze(ctx, s.ID)
		if err != nil {
			return err
		}
		s = res.Session
		shown := res.Outcome
		if s.Outcome != nil {
			shown = s.Outcome
		}
		fmt.Fprintln(w, renderOutcome(shown))
		if s.Escalation != nil {
			fmt.Fprintln(w, renderEscalation(s.Escalation))
		}
		if shown.Confidence >= threshold || eof {
			return nil
		}

		next, err := sessions.FollowUp(ctx, s.ID)
		if err != nil {
			if apperr.Is(err, apperr.KindSessionState) {
				fmt.Fprintf(w, "\nNo further rounds: %v\n", err)
				return nil
			}
			return err
		}
		s = next
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
