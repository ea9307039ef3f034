package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/inference-eval/internal/framing"
	"github.com/danielpatrickdp/inference-eval/internal/store"
)

// #region main
var (
	dbPath  string
	runID   string
	outPath string

	rootCmd = &cobra.Command{
		Use:   "fixture-export",
		Short: "Export a stored run's predictions as a reply fixture",
		Long: `fixture-export writes the predicted labels of a stored run (the most
recent one unless --run is given) as a {"Labels": [...]} reply, the same
shape the client prints, so it can be fed back to replay --predictions.`,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return run(dbPath, runID, outPath)
		},
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&dbPath, "db", "", "controller database")
	f.StringVar(&runID, "run", "", "run to export (default: most recent)")
	f.StringVar(&outPath, "out", "", "output fixture JSON path")
	_ = rootCmd.MarkFlagRequired("db")
	_ = rootCmd.MarkFlagRequired("out")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, runID, outPath string) error {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	rec, err := pickRun(st, runID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(framing.Reply{Labels: rec.Predicted}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}

	fmt.Fprintf(os.Stderr, "exported run %s (%d predictions, %d classes) to %s\n",
		rec.RunID, len(rec.Predicted), rec.Classes, outPath)
	return nil
}

func pickRun(st *store.Store, runID string) (store.RunRecord, error) {
	if runID != "" {
		return st.GetRun(runID)
	}
	runs, err := st.ListRuns(1)
	if err != nil {
		return store.RunRecord{}, err
	}
	if len(runs) == 0 {
		return store.RunRecord{}, fmt.Errorf("no runs stored")
	}
	return runs[0], nil
}

// #endregion extract
