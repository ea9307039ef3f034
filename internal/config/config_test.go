package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/inference-eval/internal/executor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eval.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9090", cfg.Controller.Addr)
	assert.Equal(t, 784, cfg.Server.Dim)
	assert.Equal(t, 10, cfg.Controller.Classes)
	assert.Equal(t, 30*time.Second, cfg.Server.IdleTimeout)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":30080"
  idle_timeout: 2s
  dim: 4
  controller_addr: "ctl:9090"
controller:
  classes: 3
  min_score: 0.5
executor:
  backend: linear
  model_path: weights.json
logging:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":30080", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 4, cfg.Server.Dim)
	assert.Equal(t, "ctl:9090", cfg.Server.ControllerAddr)
	assert.Equal(t, 3, cfg.Controller.Classes)
	assert.Equal(t, 0.5, cfg.Controller.MinScore)
	assert.Equal(t, 0.2, cfg.Controller.MaxErrorRate, "unset keys keep defaults")
	assert.Equal(t, "json", cfg.Logging.Format)

	ec := cfg.Controller.EvalConfig()
	assert.Equal(t, 3, ec.Classes)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":1\"\n")
	t.Setenv("EVAL_SERVER_ADDR", ":2")
	t.Setenv("EVAL_CLASSES", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":2", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Controller.Classes)
}

func TestLoad_BadEnvInt(t *testing.T) {
	t.Setenv("EVAL_DIM", "wide")
	_, err := Load("")
	assert.ErrorContains(t, err, "EVAL_DIM")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Dim = 0
	cfg.Controller.Classes = -1
	cfg.Controller.MinScore = 2
	cfg.Executor.Backend = "tpu"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.dim", "controller.classes", "min_score", "executor.backend"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidate_IdleTimeoutRequired(t *testing.T) {
	cfg := Default()
	cfg.Server.IdleTimeout = 0
	cfg.Controller.IdleTimeout = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "server.idle_timeout")
	assert.ErrorContains(t, err, "controller.idle_timeout")

	require.NoError(t, Default().Validate())
}

func TestBuildLoader(t *testing.T) {
	e := ExecutorConfig{Backend: "linear", ModelPath: "w.json"}
	l, err := e.BuildLoader()
	require.NoError(t, err)
	assert.Equal(t, executor.LinearLoader{Path: "w.json"}, l)

	e = ExecutorConfig{Backend: "remote", ModelPath: "m.onnx"}
	_, err = e.BuildLoader()
	assert.ErrorContains(t, err, "remote.addr")

	e.Remote.Addr = "localhost:50051"
	l, err = e.BuildLoader()
	require.NoError(t, err)
	assert.IsType(t, executor.RemoteLoader{}, l)

	onnx := Default().Executor
	onnx.ModelPath = "m.onnx"
	l, err = onnx.BuildLoader()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 784}, l.(executor.ONNXLoader).InputShape)

	_, err = ExecutorConfig{Backend: "linear"}.BuildLoader()
	assert.ErrorContains(t, err, "model_path")
}
