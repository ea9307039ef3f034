package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/inference-eval/internal/bench"
	"github.com/danielpatrickdp/inference-eval/internal/config"
	"github.com/danielpatrickdp/inference-eval/internal/dataset"
	"github.com/danielpatrickdp/inference-eval/internal/eval"
	"github.com/danielpatrickdp/inference-eval/internal/executor"
)

// #region main
var (
	configPath  string
	backend     string
	modelPath   string
	dim         int
	warmup      bool
	groundTruth string

	rootCmd = &cobra.Command{
		Use:   "bench [dataset]",
		Short: "Time model inference over a dataset without the network",
		Long: `bench loads the configured executor in-process, runs every dataset row
through it and reports per-row latency (mean, p50, p95, max) and throughput.
With --ground-truth it also prints the metrics report for the predictions.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&backend, "executor", "", "executor backend: onnx, remote or linear")
	f.StringVar(&modelPath, "model", "", "model path (overrides executor.model_path)")
	f.IntVar(&dim, "dim", 0, "feature row length (overrides server.dim)")
	f.BoolVar(&warmup, "warmup", true, "run the first row once before timing")
	f.StringVarP(&groundTruth, "ground-truth", "g", "", "score the predictions against this label file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("executor") {
		cfg.Executor.Backend = backend
	}
	if f.Changed("model") {
		cfg.Executor.ModelPath = modelPath
	}
	if f.Changed("dim") {
		cfg.Server.Dim = dim
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	loader, err := cfg.Executor.BuildLoader()
	if err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if cfg.Executor.Backend == "onnx" {
		defer executor.ShutdownONNX()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := bench.Run(ctx, loader, args[0], cfg.Server.Dim, warmup)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "executor=%s model=%s\n%s\n", cfg.Executor.Backend, cfg.Executor.ModelPath, res.Stats)

	if groundTruth == "" {
		return nil
	}
	truth, err := dataset.ReadLabels(groundTruth)
	if err != nil {
		return err
	}
	r, err := eval.NewEvalHarness(cfg.Controller.EvalConfig()).Run(truth, res.Labels)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	return eval.WriteReport(out, "bench", r)
}

// #endregion main
