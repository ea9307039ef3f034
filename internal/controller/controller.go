// Package controller receives prediction batches, scores them against ground
// truth and reports the resulting metrics.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/inference-eval/internal/dataset"
	"github.com/danielpatrickdp/inference-eval/internal/eval"
	"github.com/danielpatrickdp/inference-eval/internal/framing"
	"github.com/danielpatrickdp/inference-eval/internal/logging"
	"github.com/danielpatrickdp/inference-eval/internal/store"
	"github.com/danielpatrickdp/inference-eval/internal/supervisor"
)

// maxLoggedSkips caps the per-sample warnings for one batch; the total is
// always logged.
const maxLoggedSkips = 20

// #region types
// Config configures a Controller.
type Config struct {
	MaxWorkers   int
	IdleTimeout  time.Duration
	MaxReplySize int
	GroundTruth  string // label file, re-read for every batch
	Eval         eval.EvalConfig
}

// Result is the outcome of evaluating one batch.
type Result struct {
	RunID      string // empty when no store is configured
	Eval       eval.EvalResult
	Cumulative *eval.EvalResult // nil when no store is configured
	Runs       int              // stored runs in the cumulative view
}

// Controller evaluates prediction batches. The store and report sink are
// optional.
type Controller struct {
	cfg     Config
	harness *eval.EvalHarness
	store   *store.Store
	log     *slog.Logger

	reportMu sync.Mutex
	report   io.Writer
}

// #endregion types

// #region constructor
// New returns a Controller. st and report may be nil.
func New(cfg Config, st *store.Store, report io.Writer, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		harness: eval.NewEvalHarness(cfg.Eval),
		store:   st,
		log:     log,
		report:  report,
	}
}

// #endregion constructor

// #region serve
// ListenAndServe binds addr and serves until ctx is cancelled.
func (c *Controller) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return c.Serve(ctx, ln)
}

// Serve accepts one prediction batch per connection until ctx is cancelled,
// then waits for in-flight evaluations.
func (c *Controller) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	sup := supervisor.New(c.cfg.MaxWorkers, c.log, func(out supervisor.Outcome) {
		if out.Err != nil {
			batchesTotal.WithLabelValues("error").Inc()
		}
	})
	workCtx := context.WithoutCancel(ctx)
	c.log.Info("controller listening", "addr", ln.Addr().String(), "ground_truth", c.cfg.GroundTruth)

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				acceptErr = fmt.Errorf("accept: %w", err)
			}
			break
		}
		id := uuid.NewString()
		sup.Go(workCtx, id, func(ctx context.Context) error {
			return c.handle(ctx, id, conn)
		})
	}

	sup.Wait()
	c.log.Info("controller stopped", "batches", sup.Total())
	return acceptErr
}

func (c *Controller) handle(_ context.Context, id string, conn net.Conn) error {
	defer conn.Close()
	source := conn.RemoteAddr().String()
	log := c.log.With("conn_id", id, "remote", source)

	if c.cfg.IdleTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}
	reply, err := framing.ReadReply(conn, c.cfg.MaxReplySize)
	if err != nil {
		var re *framing.RemoteError
		if errors.As(err, &re) {
			log.Warn("peer sent a failure instead of predictions", "error", re.Message)
		} else {
			log.Error("read prediction batch", "error", err)
		}
		return err
	}

	if _, err := c.Evaluate(source, reply.Labels); err != nil {
		log.Error("evaluate batch", "error", err)
		return err
	}
	return nil
}

// #endregion serve

// #region evaluate
// Evaluate scores predicted against the configured ground truth, logs and
// reports the metrics, and persists the run when a store is configured.
func (c *Controller) Evaluate(source string, predicted []int) (Result, error) {
	truth, err := dataset.ReadLabels(c.cfg.GroundTruth)
	if err != nil {
		return Result{}, fmt.Errorf("load ground truth: %w", err)
	}
	r, err := c.harness.Run(truth, predicted)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate: %w", err)
	}

	log := c.log.With("source", source)
	if r.Skipped > 0 {
		c.logSkipped(log, truth, predicted, r.Skipped)
	}
	res := Result{Eval: r}

	if c.store != nil {
		res.RunID, err = c.persist(source, predicted, r)
		if err != nil {
			return res, err
		}
		log = log.With("run_id", res.RunID)
		cum, runs, err := c.cumulative()
		if err != nil {
			return res, err
		}
		res.Cumulative, res.Runs = &cum, runs
	}

	for _, a := range r.Alerts {
		log.Warn("threshold alert", "alert", a.String())
	}
	log.Info("batch evaluated",
		"samples", r.Overall.N,
		"skipped", r.Skipped,
		"accuracy", r.Overall.Accuracy.String(),
		"error_rate", r.Overall.ErrorRate.String(),
		"passed", r.Passed,
	)
	observe(r)

	if err := c.writeReport(res); err != nil {
		return res, fmt.Errorf("write report: %w", err)
	}
	return res, nil
}

func (c *Controller) logSkipped(log *slog.Logger, truth, predicted []int, skipped int) {
	idx := eval.SkippedIndices(c.cfg.Eval.Classes, truth, predicted)
	for n, i := range idx {
		if n == maxLoggedSkips {
			break
		}
		log.Warn("label out of range, sample skipped",
			"index", i, "truth", truth[i], "predicted", predicted[i], "classes", c.cfg.Eval.Classes)
	}
	log.Warn("samples skipped", "count", skipped)
}

// #endregion evaluate

// #region persist
func (c *Controller) persist(source string, predicted []int, r eval.EvalResult) (string, error) {
	rec := store.RunRecord{
		Source:    source,
		Classes:   r.Matrix.Classes(),
		Samples:   r.Overall.N,
		Skipped:   r.Skipped,
		Matrix:    r.Matrix.Rows(),
		Predicted: predicted,
		Passed:    r.Passed,
		Reason:    r.Reason,
	}
	if r.Overall.Accuracy.Defined {
		acc := r.Overall.Accuracy.Value
		rec.Accuracy = &acc
	}
	saved, err := c.store.SaveRun(rec)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}

	events := []store.RunEvent{{
		RunID:     saved.RunID,
		EventType: logging.EventEvaluated,
		Detail:    fmt.Sprintf("n=%d accuracy=%s passed=%t", r.Overall.N, r.Overall.Accuracy, r.Passed),
	}}
	if r.Skipped > 0 {
		events = append(events, store.RunEvent{
			RunID:     saved.RunID,
			EventType: logging.EventSkippedLabels,
			Detail:    fmt.Sprintf("%d samples with a label outside [0,%d)", r.Skipped, r.Matrix.Classes()),
		})
	}
	for _, a := range r.Alerts {
		events = append(events, store.RunEvent{RunID: saved.RunID, EventType: logging.EventAlert, Detail: a.String()})
	}
	for _, ev := range events {
		if err := logging.LogEvent(c.store.DB(), ev); err != nil {
			return saved.RunID, err
		}
	}
	return saved.RunID, nil
}

// cumulative evaluates the sum of every stored matrix of this class count.
func (c *Controller) cumulative() (eval.EvalResult, int, error) {
	rows, runs, err := c.store.CumulativeMatrix(c.cfg.Eval.Classes)
	if err != nil {
		return eval.EvalResult{}, 0, fmt.Errorf("cumulative matrix: %w", err)
	}
	m, err := eval.FromRows(rows)
	if err != nil {
		return eval.EvalResult{}, 0, fmt.Errorf("cumulative matrix: %w", err)
	}
	return c.harness.Evaluate(m, 0), runs, nil
}

// #endregion persist

// #region report
func (c *Controller) writeReport(res Result) error {
	if c.report == nil {
		return nil
	}
	c.reportMu.Lock()
	defer c.reportMu.Unlock()

	title := "batch"
	if res.RunID != "" {
		title = "run " + res.RunID
	}
	if err := eval.WriteReport(c.report, title, res.Eval); err != nil {
		return err
	}
	if res.Cumulative != nil {
		title := fmt.Sprintf("cumulative over %d runs", res.Runs)
		if err := eval.WriteReport(c.report, title, *res.Cumulative); err != nil {
			return err
		}
	}
	_, err := io.WriteString(c.report, "\n")
	return err
}

// #endregion report
