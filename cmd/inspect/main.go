package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/inference-eval/internal/eval"
	"github.com/danielpatrickdp/inference-eval/internal/store"
)

// #region main
var (
	dbPath     string
	last       int
	runID      string
	cumulative int
	jsonOut    bool

	rootCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Browse evaluation runs stored by the controller",
		Example: `  inspect --db eval.db --last 10
  inspect --db eval.db --run 3f2a9c1e-...
  inspect --db eval.db --cumulative 10`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&dbPath, "db", "", "path to the controller database")
	f.IntVar(&last, "last", 20, "show N most recent runs")
	f.StringVar(&runID, "run", "", "show a single run in detail")
	f.IntVar(&cumulative, "cumulative", 0, "report the summed matrix of all runs with this many classes")
	f.BoolVar(&jsonOut, "json", false, "output as JSON instead of text")
	_ = rootCmd.MarkFlagRequired("db")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	switch {
	case runID != "":
		return runDetailMode(st, runID, jsonOut)
	case cumulative > 0:
		return runCumulativeMode(st, cumulative, jsonOut)
	default:
		return runListMode(st, last, jsonOut)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID      string   `json:"run_id"`
	Source     string   `json:"source,omitempty"`
	Classes    int      `json:"classes"`
	Samples    int      `json:"samples"`
	Skipped    int      `json:"skipped"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Passed     bool     `json:"passed"`
	Reason     string   `json:"reason,omitempty"`
	ReceivedAt string   `json:"received_at"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	// store returns newest first, print chronologically
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		rows[len(runs)-1-i] = listRow{
			RunID:      r.RunID,
			Source:     r.Source,
			Classes:    r.Classes,
			Samples:    r.Samples,
			Skipped:    r.Skipped,
			Accuracy:   r.Accuracy,
			Passed:     r.Passed,
			Reason:     r.Reason,
			ReceivedAt: r.ReceivedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %7s  %7s  %8s  %-6s  %-21s  %s\n",
		"Run", "Samples", "Skipped", "Accuracy", "Passed", "Source", "Time")
	fmt.Printf("%-10s+-%7s+-%7s+-%8s+-%-6s+-%-21s+-%s\n",
		"----------", "-------", "-------", "--------", "------", "---------------------", "--------------------")
	for _, r := range rows {
		acc := "—"
		if r.Accuracy != nil {
			acc = fmt.Sprintf("%.4f", *r.Accuracy)
		}
		fmt.Printf("%-10s  %7d  %7d  %8s  %-6v  %-21s  %s\n",
			shortID(r.RunID), r.Samples, r.Skipped, acc, r.Passed, r.Source, r.ReceivedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	listRow
	Matrix    [][]int             `json:"matrix"`
	Predicted []int               `json:"predicted"`
	Classes   []eval.ClassMetrics `json:"class_metrics"`
	Events    []eventOutput       `json:"events"`
}

type eventOutput struct {
	Type      string `json:"type"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

func runDetailMode(st *store.Store, id string, jsonOut bool) error {
	rec, err := st.GetRun(id)
	if err != nil {
		return err
	}
	events, err := st.ListEvents(id)
	if err != nil {
		return err
	}
	r, err := reevaluate(rec.Matrix, rec.Skipped)
	if err != nil {
		return err
	}

	if jsonOut {
		out := detailOutput{
			listRow: listRow{
				RunID:      rec.RunID,
				Source:     rec.Source,
				Classes:    rec.Classes,
				Samples:    rec.Samples,
				Skipped:    rec.Skipped,
				Accuracy:   rec.Accuracy,
				Passed:     rec.Passed,
				Reason:     rec.Reason,
				ReceivedAt: rec.ReceivedAt.Format("2006-01-02T15:04:05Z"),
			},
			Matrix:    rec.Matrix,
			Predicted: rec.Predicted,
			Classes:   r.Classes,
		}
		for _, ev := range events {
			out.Events = append(out.Events, eventOutput{
				Type:      ev.EventType,
				Detail:    ev.Detail,
				CreatedAt: ev.CreatedAt.Format("2006-01-02T15:04:05Z"),
			})
		}
		return printJSON(out)
	}

	fmt.Printf("Run:      %s\n", rec.RunID)
	fmt.Printf("Source:   %s\n", rec.Source)
	fmt.Printf("Received: %s\n", rec.ReceivedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Printf("Passed:   %v (%s)\n\n", rec.Passed, rec.Reason)
	if err := eval.WriteReport(os.Stdout, "", r); err != nil {
		return err
	}

	if len(events) > 0 {
		fmt.Printf("\nEvents:\n")
		for _, ev := range events {
			fmt.Printf("  %s  %-15s %s\n", ev.CreatedAt.Format("15:04:05"), ev.EventType, ev.Detail)
		}
	}
	return nil
}

// #endregion detail-mode

// #region cumulative-mode

func runCumulativeMode(st *store.Store, classes int, jsonOut bool) error {
	matrix, runs, err := st.CumulativeMatrix(classes)
	if err != nil {
		return err
	}
	r, err := reevaluate(matrix, 0)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(struct {
			Runs    int                 `json:"runs"`
			Matrix  [][]int             `json:"matrix"`
			Overall eval.OverallMetrics `json:"overall"`
		}{runs, matrix, r.Overall})
	}
	return eval.WriteReport(os.Stdout, fmt.Sprintf("cumulative over %d runs", runs), r)
}

// #endregion cumulative-mode

// #region output

// reevaluate recomputes metrics from a stored matrix with default thresholds.
func reevaluate(matrix [][]int, skipped int) (eval.EvalResult, error) {
	m, err := eval.FromRows(matrix)
	if err != nil {
		return eval.EvalResult{}, fmt.Errorf("stored matrix: %w", err)
	}
	cfg := eval.DefaultEvalConfig()
	cfg.Classes = m.Classes()
	return eval.NewEvalHarness(cfg).Evaluate(m, skipped), nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
