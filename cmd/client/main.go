package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/inference-eval/internal/client"
	"github.com/danielpatrickdp/inference-eval/internal/config"
	"github.com/danielpatrickdp/inference-eval/internal/logging"
)

// #region flags
var (
	configPath   string
	serverAddr   string
	dim          int
	replyTimeout time.Duration
	format       string

	rootCmd = &cobra.Command{
		Use:   "client [dataset]",
		Short: "Stream a feature dataset to the inference server and print the labels",
		Long: `client sends every non-blank line of the dataset file as one frame,
then the end-of-stream marker, and prints the predicted labels returned by
the server. It makes a single attempt and exits non-zero on any failure.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.StringVarP(&serverAddr, "server", "s", "", "server address (overrides client.server_addr)")
	f.IntVar(&dim, "dim", 0, "validate rows to this length before sending (0 skips)")
	f.DurationVar(&replyTimeout, "timeout", 0, "reply timeout (overrides client.reply_timeout)")
	f.StringVar(&format, "format", "json", "output format: json or lines")
}

// #endregion flags

// #region main
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
	if f.Changed("server") {
		cfg.Client.ServerAddr = serverAddr
	}
	if f.Changed("dim") {
		cfg.Client.Dim = dim
	}
	if f.Changed("timeout") {
		cfg.Client.ReplyTimeout = replyTimeout
	}
	if len(args) == 1 {
		cfg.Client.Dataset = args[0]
	}
	if cfg.Client.Dataset == "" {
		return fmt.Errorf("no dataset given (argument, client.dataset or EVAL_DATASET)")
	}
	if format != "json" && format != "lines" {
		return fmt.Errorf("unknown format %q", format)
	}

	log, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(client.Config{
		Addr:         cfg.Client.ServerAddr,
		Dim:          cfg.Client.Dim,
		DialTimeout:  cfg.Client.DialTimeout,
		ReplyTimeout: cfg.Client.ReplyTimeout,
	}, log)

	reply, err := c.Run(ctx, cfg.Client.Dataset)
	if err != nil {
		log.Error("evaluation request failed", "server", cfg.Client.ServerAddr, "dataset", cfg.Client.Dataset, "error", err)
		return err
	}

	out := cmd.OutOrStdout()
	if format == "lines" {
		for _, l := range reply.Labels {
			fmt.Fprintln(out, l)
		}
		return nil
	}
	enc := json.NewEncoder(out)
	return enc.Encode(reply)
}

// #endregion main
