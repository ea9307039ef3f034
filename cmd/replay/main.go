package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/inference-eval/internal/dataset"
	"github.com/danielpatrickdp/inference-eval/internal/eval"
	"github.com/danielpatrickdp/inference-eval/internal/framing"
	"github.com/danielpatrickdp/inference-eval/internal/store"
)

// #region main
var (
	dbPath          string
	runID           string
	last            int
	predictionsPath string
	groundTruth     string
	classes         int

	rootCmd = &cobra.Command{
		Use:   "replay",
		Short: "Re-evaluate stored or saved predictions against ground truth",
		Long: `replay recomputes the confusion matrix and metrics of prediction batches.
In DB mode every stored run is re-scored and compared with what the
controller recorded; any divergence makes the command fail. In predictions
mode a saved client reply ({"Labels": [...]}) is scored and reported.`,
		Example: `  replay --db eval.db --ground-truth labels.txt
  replay --predictions reply.json --ground-truth labels.txt --classes 10`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&dbPath, "db", "", "controller database (DB mode)")
	f.StringVar(&runID, "run", "", "replay only this run (DB mode)")
	f.IntVar(&last, "last", 100, "replay the N most recent runs (DB mode)")
	f.StringVar(&predictionsPath, "predictions", "", "saved client reply JSON (predictions mode)")
	f.StringVarP(&groundTruth, "ground-truth", "g", "", "ground-truth label file")
	f.IntVar(&classes, "classes", eval.DefaultEvalConfig().Classes, "number of classes (predictions mode)")
	rootCmd.MarkFlagsMutuallyExclusive("db", "predictions")
	rootCmd.MarkFlagsOneRequired("db", "predictions")
	_ = rootCmd.MarkFlagRequired("ground-truth")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	truth, err := dataset.ReadLabels(groundTruth)
	if err != nil {
		return err
	}
	if predictionsPath != "" {
		return runPredictionsMode(predictionsPath, truth, classes)
	}
	return runDBMode(dbPath, truth)
}

// #endregion main

// #region db-mode

type replayResult struct {
	RunID    string
	Stored   *float64
	Replayed eval.EvalResult
	Match    bool
}

func runDBMode(dbPath string, truth []int) error {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	var runs []store.RunRecord
	if runID != "" {
		rec, err := st.GetRun(runID)
		if err != nil {
			return err
		}
		runs = []store.RunRecord{rec}
	} else {
		if runs, err = st.ListRuns(last); err != nil {
			return err
		}
		slices.Reverse(runs)
	}
	if len(runs) == 0 {
		return fmt.Errorf("no runs found in %s", dbPath)
	}

	results := make([]replayResult, 0, len(runs))
	for _, rec := range runs {
		cfg := eval.DefaultEvalConfig()
		cfg.Classes = rec.Classes
		r, err := eval.NewEvalHarness(cfg).Run(truth, rec.Predicted)
		if err != nil {
			return fmt.Errorf("run %s: %w", rec.RunID, err)
		}
		results = append(results, replayResult{
			RunID:    rec.RunID,
			Stored:   rec.Accuracy,
			Replayed: r,
			Match:    matches(rec, r),
		})
	}
	return printComparison(results)
}

// matches reports whether a replay reproduced the stored run exactly.
func matches(rec store.RunRecord, r eval.EvalResult) bool {
	if rec.Skipped != r.Skipped || rec.Samples != r.Overall.N {
		return false
	}
	if !slices.EqualFunc(rec.Matrix, r.Matrix.Rows(), func(a, b []int) bool { return slices.Equal(a, b) }) {
		return false
	}
	if rec.Accuracy == nil {
		return !r.Overall.Accuracy.Defined
	}
	return r.Overall.Accuracy.Defined && *rec.Accuracy == r.Overall.Accuracy.Value
}

// #endregion db-mode

// #region predictions-mode

func runPredictionsMode(path string, truth []int, classes int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &dataset.FileError{Path: path, Err: err}
	}
	var reply framing.Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return &dataset.FileError{Path: path, Err: fmt.Errorf("parse reply: %w", err)}
	}
	if reply.Error != "" {
		return &framing.RemoteError{Message: reply.Error}
	}

	cfg := eval.DefaultEvalConfig()
	cfg.Classes = classes
	r, err := eval.NewEvalHarness(cfg).Run(truth, reply.Labels)
	if err != nil {
		return err
	}
	return eval.WriteReport(os.Stdout, path, r)
}

// #endregion predictions-mode

// #region output

// printComparison outputs a comparison table and fails if any run diverges.
func printComparison(results []replayResult) error {
	fmt.Printf("%-12s| %-14s| %-14s| %s\n", "Run", "Stored", "Replayed", "Match")
	fmt.Printf("%-12s+%-11s+%-11s+%s\n",
		"------------", "---------------", "---------------", "------")

	diverge := 0
	for _, r := range results {
		stored := eval.Ratio{}.String()
		if r.Stored != nil {
			stored = fmt.Sprintf("%.4f", *r.Stored)
		}
		match := "OK"
		if !r.Match {
			match = "DIFF"
			diverge++
		}
		fmt.Printf("%-12s| %-14s| %-14s| %s\n", shortID(r.RunID), stored, r.Replayed.Overall.Accuracy, match)
	}

	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", len(results), len(results)-diverge, diverge)
	if diverge > 0 {
		return fmt.Errorf("%d of %d runs diverge", diverge, len(results))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
