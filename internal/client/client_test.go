package client

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/inference-eval/internal/dataset"
	"github.com/danielpatrickdp/inference-eval/internal/executor"
	"github.com/danielpatrickdp/inference-eval/internal/framing"
	"github.com/danielpatrickdp/inference-eval/internal/logging"
	"github.com/danielpatrickdp/inference-eval/internal/server"
)

// #region harness
func startServer(t *testing.T) string {
	t.Helper()
	loader := executor.LoaderFunc(func(context.Context) (executor.Executor, error) {
		return executor.NewLinear(executor.LinearModel{
			Weights: [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		}, "mem")
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.New(server.Config{MaxWorkers: 2, IdleTimeout: 2 * time.Second, Dim: 3}, loader, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newClient(addr string, dim int) *Client {
	return New(Config{Addr: addr, Dim: dim, DialTimeout: time.Second, ReplyTimeout: 5 * time.Second}, logging.Discard())
}

// #endregion harness

func TestRun_LabelsInFileOrder(t *testing.T) {
	addr := startServer(t)
	path := writeDataset(t, "1,0,0\n\n0,0,2\r\n0,5,1\n")

	reply, err := newClient(addr, 3).Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 1}, reply.Labels)
}

func TestRun_EmptyDataset(t *testing.T) {
	addr := startServer(t)
	reply, err := newClient(addr, 3).Run(context.Background(), writeDataset(t, "\n\n"))
	require.NoError(t, err)
	assert.Empty(t, reply.Labels)
}

func TestRun_ConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = newClient(addr, 3).Run(context.Background(), writeDataset(t, "1,0,0\n"))
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, addr, ce.Addr)
}

func TestRun_FileError(t *testing.T) {
	addr := startServer(t)
	_, err := newClient(addr, 3).Run(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))

	var fe *dataset.FileError
	require.ErrorAs(t, err, &fe)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRun_LocalRowValidation(t *testing.T) {
	addr := startServer(t)
	_, err := newClient(addr, 3).Run(context.Background(), writeDataset(t, "1,0,0\n1,x,0\n"))

	assert.True(t, framing.IsFramingError(err))
	assert.ErrorIs(t, err, framing.ErrMalformedRow)
	assert.Contains(t, err.Error(), "line 2")
}

func TestRun_ServerRejectsRow(t *testing.T) {
	addr := startServer(t)
	// no local validation, so the server is the one to reject the row
	_, err := newClient(addr, 0).Run(context.Background(), writeDataset(t, "1,0\n"))

	var re *framing.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Message, "want 3")
}

func TestConnectError_Unwrap(t *testing.T) {
	inner := errors.New("refused")
	err := &ConnectError{Addr: "h:1", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "connect h:1: refused", err.Error())
}
