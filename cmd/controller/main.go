package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/inference-eval/internal/config"
	"github.com/danielpatrickdp/inference-eval/internal/controller"
	"github.com/danielpatrickdp/inference-eval/internal/logging"
	"github.com/danielpatrickdp/inference-eval/internal/store"
	"github.com/danielpatrickdp/inference-eval/internal/telemetry"
)

// #region flags
var (
	configPath  string
	addr        string
	groundTruth string
	classes     int
	dbPath      string
	reportPath  string
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "controller",
		Short: "Score forwarded prediction batches against ground truth",
		Long: `controller accepts one prediction batch per connection, compares it with
the ground-truth label file and reports the confusion matrix with per-class
and overall precision, recall, F1, error rate and accuracy.`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&addr, "addr", "", "listen address (overrides controller.addr)")
	f.StringVarP(&groundTruth, "ground-truth", "g", "", "ground-truth label file")
	f.IntVar(&classes, "classes", 0, "number of classes C")
	f.StringVar(&dbPath, "db", "", "SQLite database for run history, empty disables")
	f.StringVar(&reportPath, "report", "", "append reports to this file instead of stdout")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus endpoint address, empty disables")
}

// #endregion flags

// #region main
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Controller.Addr = addr
	}
	if f.Changed("ground-truth") {
		cfg.Controller.GroundTruth = groundTruth
	}
	if f.Changed("classes") {
		cfg.Controller.Classes = classes
	}
	if f.Changed("db") {
		cfg.Controller.DBPath = dbPath
	}
	if f.Changed("report") {
		cfg.Controller.ReportPath = reportPath
	}
	if f.Changed("metrics-addr") {
		cfg.Telemetry.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Controller.GroundTruth == "" {
		return fmt.Errorf("no ground-truth file given (--ground-truth, controller.ground_truth or EVAL_GROUND_TRUTH)")
	}

	log, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}

	var st *store.Store
	if cfg.Controller.DBPath != "" {
		st, err = store.NewStore(cfg.Controller.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
	}

	var report io.Writer = cmd.OutOrStdout()
	if cfg.Controller.ReportPath != "" {
		rf, err := os.OpenFile(cfg.Controller.ReportPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open report: %w", err)
		}
		defer rf.Close()
		report = rf
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctl := controller.New(controller.Config{
		MaxWorkers:   cfg.Controller.MaxWorkers,
		IdleTimeout:  cfg.Controller.IdleTimeout,
		MaxReplySize: cfg.Controller.MaxReplySize,
		GroundTruth:  cfg.Controller.GroundTruth,
		Eval:         cfg.Controller.EvalConfig(),
	}, st, report, log)

	log.Info("starting controller",
		"addr", cfg.Controller.Addr,
		"classes", cfg.Controller.Classes,
		"db", cfg.Controller.DBPath,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctl.ListenAndServe(gctx, cfg.Controller.Addr) })
	if cfg.Telemetry.Addr != "" {
		g.Go(func() error { return telemetry.ListenAndServe(gctx, cfg.Telemetry.Addr, log) })
	}
	if err := g.Wait(); err != nil {
		log.Error("controller stopped", "error", err)
		return err
	}
	return nil
}

// #endregion main
