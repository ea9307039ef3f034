package controller

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/inference-eval/internal/client"
	"github.com/danielpatrickdp/inference-eval/internal/eval"
	"github.com/danielpatrickdp/inference-eval/internal/executor"
	"github.com/danielpatrickdp/inference-eval/internal/framing"
	"github.com/danielpatrickdp/inference-eval/internal/logging"
	"github.com/danielpatrickdp/inference-eval/internal/server"
	"github.com/danielpatrickdp/inference-eval/internal/store"
)

// #region harness
// syncBuffer is a report sink safe to read while workers write to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeLabels(t *testing.T, labels ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "truth.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(labels, "\n")+"\n"), 0o644))
	return path
}

func memStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testConfig(truthPath string, classes int) Config {
	ev := eval.DefaultEvalConfig()
	ev.Classes = classes
	return Config{MaxWorkers: 4, IdleTimeout: 2 * time.Second, GroundTruth: truthPath, Eval: ev}
}

func startController(t *testing.T, c *Controller) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return ln.Addr().String()
}

func sendBatch(t *testing.T, addr string, r framing.Reply) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, framing.WriteReply(conn, r))
}

// #endregion harness

// #region evaluate
func TestEvaluate_DiagonalScenario(t *testing.T) {
	var report bytes.Buffer
	c := New(testConfig(writeLabels(t, "0", "0", "1", "1", "2", "2"), 3), nil, &report, logging.Discard())

	res, err := c.Evaluate("test", []int{0, 0, 1, 1, 2, 2})
	require.NoError(t, err)

	assert.Equal(t, [][]int{{2, 0, 0}, {0, 2, 0}, {0, 0, 2}}, res.Eval.Matrix.Rows())
	assert.True(t, res.Eval.Passed)
	assert.Empty(t, res.RunID)
	assert.Nil(t, res.Cumulative)
	assert.Contains(t, report.String(), "== batch ==")
}

func TestEvaluate_SkipsOutOfRange(t *testing.T) {
	c := New(testConfig(writeLabels(t, "0", "1", "5"), 3), nil, nil, logging.Discard())

	res, err := c.Evaluate("test", []int{0, 9, 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Eval.Skipped)
	assert.Equal(t, 1, res.Eval.Overall.N)
}

func TestEvaluate_GroundTruthErrors(t *testing.T) {
	c := New(testConfig(filepath.Join(t.TempDir(), "missing.txt"), 3), nil, nil, logging.Discard())
	_, err := c.Evaluate("test", []int{0})
	assert.Error(t, err)

	c = New(testConfig(writeLabels(t, "0"), 3), nil, nil, logging.Discard())
	_, err = c.Evaluate("test", []int{0, 1})
	assert.ErrorIs(t, err, eval.ErrLabelCount)
}

func TestEvaluate_PersistsRunsAndEvents(t *testing.T) {
	st := memStore(t)
	var report bytes.Buffer
	c := New(testConfig(writeLabels(t, "0", "1"), 2), st, &report, logging.Discard())

	first, err := c.Evaluate("a", []int{0, 1})
	require.NoError(t, err)
	second, err := c.Evaluate("b", []int{1, 0})
	require.NoError(t, err)

	require.NotEmpty(t, first.RunID)
	assert.Equal(t, 1, first.Runs)
	assert.Equal(t, 2, second.Runs)
	require.NotNil(t, second.Cumulative)
	assert.Equal(t, [][]int{{1, 1}, {1, 1}}, second.Cumulative.Matrix.Rows())
	assert.InDelta(t, 1.0, second.Cumulative.Overall.ErrorRate.Value, 1e-9)
	assert.InDelta(t, 0.0, second.Cumulative.Overall.Accuracy.Value, 1e-9)

	rec, err := st.GetRun(second.RunID)
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Source)
	assert.Equal(t, []int{1, 0}, rec.Predicted)
	assert.False(t, rec.Passed)

	events, err := st.ListEvents(second.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, logging.EventEvaluated, events[0].EventType)
	var alerts int
	for _, ev := range events {
		if ev.EventType == logging.EventAlert {
			alerts++
		}
	}
	assert.Equal(t, len(second.Eval.Alerts), alerts)

	assert.Contains(t, report.String(), "cumulative over 2 runs")
}

// #endregion evaluate

// #region serve
func TestServe_EvaluatesForwardedBatch(t *testing.T) {
	st := memStore(t)
	report := &syncBuffer{}
	c := New(testConfig(writeLabels(t, "0", "1", "2"), 3), st, report, logging.Discard())
	addr := startController(t, c)

	sendBatch(t, addr, framing.Reply{Labels: []int{0, 1, 1}})

	require.Eventually(t, func() bool {
		runs, err := st.ListRuns(10)
		return err == nil && len(runs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	runs, err := st.ListRuns(10)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 0, 0}, {0, 1, 0}, {0, 1, 0}}, runs[0].Matrix)
	assert.Eventually(t, func() bool { return strings.Contains(report.String(), "Confusion matrix") },
		5*time.Second, 20*time.Millisecond)
}

func TestServe_IgnoresErrorReplies(t *testing.T) {
	st := memStore(t)
	c := New(testConfig(writeLabels(t, "0"), 3), st, nil, logging.Discard())
	addr := startController(t, c)

	sendBatch(t, addr, framing.Reply{Error: "model exploded"})
	sendBatch(t, addr, framing.Reply{Labels: []int{0}})

	require.Eventually(t, func() bool {
		runs, err := st.ListRuns(10)
		return err == nil && len(runs) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServe_EndToEnd(t *testing.T) {
	st := memStore(t)
	c := New(testConfig(writeLabels(t, "0", "1", "2", "2"), 3), st, nil, logging.Discard())
	ctlAddr := startController(t, c)

	loader := executor.LoaderFunc(func(context.Context) (executor.Executor, error) {
		return executor.NewLinear(executor.LinearModel{
			Weights: [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		}, "mem")
	})
	srv := server.New(server.Config{MaxWorkers: 2, IdleTimeout: 2 * time.Second, Dim: 3, ControllerAddr: ctlAddr},
		loader, logging.Discard())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	data := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, os.WriteFile(data, []byte("1,0,0\n0,1,0\n0,0,1\n0,1,0\n"), 0o644))

	cl := client.New(client.Config{Addr: ln.Addr().String(), Dim: 3, DialTimeout: time.Second, ReplyTimeout: 5 * time.Second},
		logging.Discard())
	reply, err := cl.Run(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 1}, reply.Labels)

	require.Eventually(t, func() bool {
		runs, err := st.ListRuns(1)
		return err == nil && len(runs) == 1
	}, 5*time.Second, 20*time.Millisecond)
	runs, err := st.ListRuns(1)
	require.NoError(t, err)
	assert.Equal(t, 4, runs[0].Samples)
	require.NotNil(t, runs[0].Accuracy)
	// one miss out of four: (1 FP + 1 FN) / 4
	assert.InDelta(t, 0.5, *runs[0].Accuracy, 1e-9)
}

// #endregion serve
