// Package config loads the YAML configuration shared by every binary.
// Precedence is defaults, then the file, then EVAL_* environment variables;
// command-line flags are applied on top by each binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/inference-eval/internal/eval"
	"github.com/danielpatrickdp/inference-eval/internal/executor"
	"github.com/danielpatrickdp/inference-eval/internal/framing"
)

// #region types
// Config is the complete configuration document.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Client     ClientConfig     `yaml:"client"`
	Controller ControllerConfig `yaml:"controller"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig configures the inference server.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxWorkers     int           `yaml:"max_workers"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxRecordSize  int           `yaml:"max_record_size"`
	Dim            int           `yaml:"dim"`             // feature row length D
	ControllerAddr string        `yaml:"controller_addr"` // empty disables forwarding
}

// ClientConfig configures the evaluation client.
type ClientConfig struct {
	ServerAddr   string        `yaml:"server_addr"`
	Dataset      string        `yaml:"dataset"`
	Dim          int           `yaml:"dim"` // 0 skips local row validation
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
}

// ControllerConfig configures the metrics controller.
type ControllerConfig struct {
	Addr         string        `yaml:"addr"`
	MaxWorkers   int           `yaml:"max_workers"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxReplySize int           `yaml:"max_reply_size"`
	GroundTruth  string        `yaml:"ground_truth"`
	Classes      int           `yaml:"classes"`
	MinScore     float64       `yaml:"min_score"`
	MaxErrorRate float64       `yaml:"max_error_rate"`
	DBPath       string        `yaml:"db_path"` // empty disables persistence
	ReportPath   string        `yaml:"report_path"`
}

// ExecutorConfig selects and configures the model executor backend.
type ExecutorConfig struct {
	Backend   string     `yaml:"backend"` // onnx | remote | linear
	ModelPath string     `yaml:"model_path"`
	ONNX      ONNXConfig `yaml:"onnx"`
	Remote    RemoteConf `yaml:"remote"`
}

// ONNXConfig holds the ONNX Runtime session parameters.
type ONNXConfig struct {
	SharedLibrary string  `yaml:"shared_library"`
	InputName     string  `yaml:"input_name"`
	OutputName    string  `yaml:"output_name"`
	InputShape    []int64 `yaml:"input_shape"`
	OutputShape   []int64 `yaml:"output_shape"`
}

// RemoteConf points at an executor service.
type RemoteConf struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig configures the Prometheus endpoint. Empty Addr disables it.
type TelemetryConfig struct {
	Addr string `yaml:"addr"`
}

// #endregion types

// #region defaults
// Default returns the built-in configuration.
func Default() Config {
	ev := eval.DefaultEvalConfig()
	return Config{
		Server: ServerConfig{
			Addr:          ":8080",
			MaxWorkers:    64,
			IdleTimeout:   30 * time.Second,
			MaxRecordSize: framing.DefaultMaxRecordSize,
			Dim:           784,
		},
		Client: ClientConfig{
			ServerAddr:   "localhost:8080",
			DialTimeout:  5 * time.Second,
			ReplyTimeout: 60 * time.Second,
		},
		Controller: ControllerConfig{
			Addr:         ":9090",
			MaxWorkers:   16,
			IdleTimeout:  30 * time.Second,
			MaxReplySize: framing.DefaultMaxReplySize,
			Classes:      ev.Classes,
			MinScore:     ev.MinScore,
			MaxErrorRate: ev.MaxErrorRate,
		},
		Executor: ExecutorConfig{
			Backend: "onnx",
			ONNX: ONNXConfig{
				InputName:   "input",
				OutputName:  "output",
				InputShape:  []int64{1, 784},
				OutputShape: []int64{1, 10},
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// #endregion defaults

// #region load
// Load reads path (optional; "" means defaults only), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("env override: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Addr = envOr("EVAL_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.ControllerAddr = envOr("EVAL_CONTROLLER_FORWARD", cfg.Server.ControllerAddr)
	cfg.Client.ServerAddr = envOr("EVAL_CLIENT_SERVER", cfg.Client.ServerAddr)
	cfg.Client.Dataset = envOr("EVAL_DATASET", cfg.Client.Dataset)
	cfg.Controller.Addr = envOr("EVAL_CONTROLLER_ADDR", cfg.Controller.Addr)
	cfg.Controller.GroundTruth = envOr("EVAL_GROUND_TRUTH", cfg.Controller.GroundTruth)
	cfg.Controller.DBPath = envOr("EVAL_DB", cfg.Controller.DBPath)
	cfg.Executor.Backend = envOr("EVAL_EXECUTOR", cfg.Executor.Backend)
	cfg.Executor.ModelPath = envOr("EVAL_MODEL", cfg.Executor.ModelPath)
	cfg.Executor.Remote.Addr = envOr("EVAL_EXECUTOR_ADDR", cfg.Executor.Remote.Addr)
	cfg.Executor.ONNX.SharedLibrary = envOr("EVAL_ONNX_LIB", cfg.Executor.ONNX.SharedLibrary)
	cfg.Logging.Level = envOr("EVAL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOr("EVAL_LOG_FORMAT", cfg.Logging.Format)
	cfg.Telemetry.Addr = envOr("EVAL_METRICS_ADDR", cfg.Telemetry.Addr)

	var err error
	if cfg.Server.Dim, err = envInt("EVAL_DIM", cfg.Server.Dim); err != nil {
		return err
	}
	if cfg.Server.MaxWorkers, err = envInt("EVAL_MAX_WORKERS", cfg.Server.MaxWorkers); err != nil {
		return err
	}
	if cfg.Controller.Classes, err = envInt("EVAL_CLASSES", cfg.Controller.Classes); err != nil {
		return err
	}
	return nil
}

// #endregion load

// #region validate
// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("server.max_workers must be >= 0, got %d", c.Server.MaxWorkers))
	}
	if c.Server.Dim <= 0 {
		errs = append(errs, fmt.Errorf("server.dim must be > 0, got %d", c.Server.Dim))
	}
	if c.Server.MaxRecordSize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_record_size must be > 0"))
	}
	if c.Server.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.idle_timeout must be > 0, got %s", c.Server.IdleTimeout))
	}
	if c.Controller.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("controller.idle_timeout must be > 0, got %s", c.Controller.IdleTimeout))
	}
	if c.Client.Dim < 0 {
		errs = append(errs, fmt.Errorf("client.dim must be >= 0, got %d", c.Client.Dim))
	}
	if c.Controller.Classes <= 0 {
		errs = append(errs, fmt.Errorf("controller.classes must be > 0, got %d", c.Controller.Classes))
	}
	if c.Controller.MaxReplySize <= 0 {
		errs = append(errs, fmt.Errorf("controller.max_reply_size must be > 0"))
	}
	if c.Controller.MinScore < 0 || c.Controller.MinScore > 1 {
		errs = append(errs, fmt.Errorf("controller.min_score must be in [0,1], got %g", c.Controller.MinScore))
	}
	if c.Controller.MaxErrorRate < 0 || c.Controller.MaxErrorRate > 1 {
		errs = append(errs, fmt.Errorf("controller.max_error_rate must be in [0,1], got %g", c.Controller.MaxErrorRate))
	}
	switch c.Executor.Backend {
	case "onnx", "remote", "linear":
	default:
		errs = append(errs, fmt.Errorf("executor.backend must be onnx, remote or linear, got %q", c.Executor.Backend))
	}
	return errors.Join(errs...)
}

// EvalConfig derives the metrics engine settings.
func (c ControllerConfig) EvalConfig() eval.EvalConfig {
	return eval.EvalConfig{
		Classes:      c.Classes,
		MinScore:     c.MinScore,
		MaxErrorRate: c.MaxErrorRate,
	}
}

// #endregion validate

// #region loader
// BuildLoader returns the executor.Loader for the configured backend.
func (e ExecutorConfig) BuildLoader() (executor.Loader, error) {
	if e.ModelPath == "" {
		return nil, errors.New("executor.model_path is required")
	}
	switch e.Backend {
	case "linear":
		return executor.LinearLoader{Path: e.ModelPath}, nil
	case "remote":
		if e.Remote.Addr == "" {
			return nil, errors.New("executor.remote.addr is required for the remote backend")
		}
		return executor.RemoteLoader{Addr: e.Remote.Addr, ModelPath: e.ModelPath}, nil
	case "onnx":
		return executor.ONNXLoader{
			ModelPath:     e.ModelPath,
			SharedLibrary: e.ONNX.SharedLibrary,
			InputName:     e.ONNX.InputName,
			OutputName:    e.ONNX.OutputName,
			InputShape:    e.ONNX.InputShape,
			OutputShape:   e.ONNX.OutputShape,
		}, nil
	}
	return nil, fmt.Errorf("unknown executor backend %q", e.Backend)
}

// #endregion loader

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// #endregion helpers
