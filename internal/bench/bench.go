// Package bench measures model executor latency over a dataset.
package bench

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/danielpatrickdp/inference-eval/internal/dataset"
	"github.com/danielpatrickdp/inference-eval/internal/executor"
	"github.com/danielpatrickdp/inference-eval/internal/framing"
)

// #region stats
// Stats summarizes per-row inference latency.
type Stats struct {
	Rows       int
	Total      time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	Max        time.Duration
	Throughput float64 // rows per second of inference time
}

// Summarize computes Stats from individual latencies.
func Summarize(latencies []time.Duration) Stats {
	s := Stats{Rows: len(latencies)}
	if len(latencies) == 0 {
		return s
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	for _, d := range sorted {
		s.Total += d
	}
	s.Mean = s.Total / time.Duration(len(sorted))
	s.P50 = percentile(sorted, 0.50)
	s.P95 = percentile(sorted, 0.95)
	s.Max = sorted[len(sorted)-1]
	if s.Total > 0 {
		s.Throughput = float64(len(sorted)) / s.Total.Seconds()
	}
	return s
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(p*float64(len(sorted)) + 0.999999)
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func (s Stats) String() string {
	return fmt.Sprintf("rows=%d mean=%s p50=%s p95=%s max=%s throughput=%.1f rows/s",
		s.Rows, s.Mean, s.P50, s.P95, s.Max, s.Throughput)
}

// #endregion stats

// #region run
// Result is the outcome of a benchmark run.
type Result struct {
	Stats  Stats
	Labels []int
}

// Run loads one executor, warms it up with the first row when warmup is set,
// and times Infer for every row of the dataset.
func Run(ctx context.Context, loader executor.Loader, datasetPath string, dim int, warmup bool) (Result, error) {
	exec, err := loader.Load(ctx)
	if err != nil {
		return Result{}, err
	}
	defer exec.Close()

	rows, err := dataset.OpenRows(datasetPath)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	parser := framing.RowParser{Dim: dim}
	var latencies []time.Duration
	var labels []int
	for rows.Next() {
		row, err := parser.Parse(rows.Bytes())
		if err != nil {
			return Result{}, fmt.Errorf("line %d: %w", rows.Line(), err)
		}
		if warmup && len(latencies) == 0 {
			if _, err := exec.Infer(ctx, row); err != nil {
				return Result{}, fmt.Errorf("warmup: %w", err)
			}
		}

		start := time.Now()
		scores, err := exec.Infer(ctx, row)
		elapsed := time.Since(start)
		if err != nil {
			return Result{}, fmt.Errorf("line %d: %w", rows.Line(), err)
		}
		label, err := executor.Argmax(scores)
		if err != nil {
			return Result{}, fmt.Errorf("line %d: %w", rows.Line(), err)
		}
		latencies = append(latencies, elapsed)
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return Result{Stats: Summarize(latencies), Labels: labels}, nil
}

// #endregion run
