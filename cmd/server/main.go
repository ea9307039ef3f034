package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/inference-eval/internal/config"
	"github.com/danielpatrickdp/inference-eval/internal/executor"
	"github.com/danielpatrickdp/inference-eval/internal/logging"
	"github.com/danielpatrickdp/inference-eval/internal/server"
	"github.com/danielpatrickdp/inference-eval/internal/telemetry"
)

// #region flags
var (
	configPath  string
	addr        string
	maxWorkers  int
	dim         int
	forwardTo   string
	backend     string
	modelPath   string
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "server",
		Short: "Serve model inference over the framed row protocol",
		Long: `server accepts feature rows framed as int32 length + comma-separated
values, runs each row through the configured model executor and replies with
the predicted labels. Each connection is handled by its own worker.`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	f.IntVar(&maxWorkers, "max-workers", 0, "concurrent connection limit (overrides server.max_workers)")
	f.IntVar(&dim, "dim", 0, "feature row length (overrides server.dim)")
	f.StringVar(&forwardTo, "controller", "", "controller address to forward prediction batches to")
	f.StringVar(&backend, "executor", "", "executor backend: onnx, remote or linear")
	f.StringVar(&modelPath, "model", "", "model path (overrides executor.model_path)")
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
		cfg.Server.Addr = addr
	}
	if f.Changed("max-workers") {
		cfg.Server.MaxWorkers = maxWorkers
	}
	if f.Changed("dim") {
		cfg.Server.Dim = dim
	}
	if f.Changed("controller") {
		cfg.Server.ControllerAddr = forwardTo
	}
	if f.Changed("executor") {
		cfg.Executor.Backend = backend
	}
	if f.Changed("model") {
		cfg.Executor.ModelPath = modelPath
	}
	if f.Changed("metrics-addr") {
		cfg.Telemetry.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	loader, err := cfg.Executor.BuildLoader()
	if err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if cfg.Executor.Backend == "onnx" {
		defer executor.ShutdownONNX()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		MaxWorkers:     cfg.Server.MaxWorkers,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxRecordSize:  cfg.Server.MaxRecordSize,
		Dim:            cfg.Server.Dim,
		ControllerAddr: cfg.Server.ControllerAddr,
	}, loader, log)

	log.Info("starting inference server",
		"addr", cfg.Server.Addr,
		"executor", cfg.Executor.Backend,
		"model", cfg.Executor.ModelPath,
		"dim", cfg.Server.Dim,
		"controller", cfg.Server.ControllerAddr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.Addr) })
	if cfg.Telemetry.Addr != "" {
		g.Go(func() error { return telemetry.ListenAndServe(gctx, cfg.Telemetry.Addr, log) })
	}
	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		return err
	}
	return nil
}

// #endregion main
