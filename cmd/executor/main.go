package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/inference-eval/internal/config"
	"github.com/danielpatrickdp/inference-eval/internal/executor"
	"github.com/danielpatrickdp/inference-eval/internal/logging"
)

// #region flags
var (
	configPath string
	addr       string
	backend    string
	modelPath  string

	rootCmd = &cobra.Command{
		Use:   "executor",
		Short: "Host a model executor for inference servers using the remote backend",
		Long: `executor loads models with a local backend (onnx or linear) and serves
load, infer and close calls over gRPC, so inference servers can run with
executor.backend=remote and keep the model runtime out of their process.`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&addr, "addr", ":50051", "gRPC listen address")
	f.StringVar(&backend, "executor", "", "local backend: onnx or linear")
	f.StringVar(&modelPath, "model", "", "model path (overrides executor.model_path)")
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
	if cmd.Flags().Changed("executor") {
		cfg.Executor.Backend = backend
	}
	if cmd.Flags().Changed("model") {
		cfg.Executor.ModelPath = modelPath
	}
	if cfg.Executor.Backend == "remote" {
		return fmt.Errorf("executor host needs a local backend, not %q", cfg.Executor.Backend)
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

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	svc := executor.NewService(loader, log)
	svc.Register(srv)
	defer svc.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	log.Info("executor service listening", "addr", ln.Addr().String(), "backend", cfg.Executor.Backend, "model", cfg.Executor.ModelPath)
	if err := srv.Serve(ln); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	log.Info("executor service stopped", "open_handles", svc.Open())
	return nil
}

// #endregion main
