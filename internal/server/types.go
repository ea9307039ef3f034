package server

import (
	"time"

	"github.com/danielpatrickdp/inference-eval/internal/framing"
)

// #region config
// Config configures a Server.
type Config struct {
	MaxWorkers     int           // concurrent connections; <= 0 is unbounded
	IdleTimeout    time.Duration // per-frame read deadline; 0 disables
	MaxRecordSize  int           // largest accepted frame payload
	Dim            int           // feature row length; 0 accepts any
	ControllerAddr string        // forward target; empty disables forwarding
}

// #endregion config

// #region state
// State is the lifecycle position of one connection.
type State int

const (
	StateAccepted State = iota
	StateReceiving
	StateInferring
	StateReplying
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "ACCEPTED"
	case StateReceiving:
		return "RECEIVING"
	case StateInferring:
		return "INFERRING"
	case StateReplying:
		return "REPLYING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// #endregion state

// #region predictions
// PredictionRecord is the result for one input row. Label is the argmax of
// the executor's scores with ties going to the lowest class.
type PredictionRecord struct {
	Index int
	Label int
}

// PredictionBatch holds one record per received row, in arrival order.
type PredictionBatch struct {
	Records []PredictionRecord
}

// Len is the number of rows the batch answers.
func (b PredictionBatch) Len() int { return len(b.Records) }

// Labels returns the predicted labels in request order.
func (b PredictionBatch) Labels() []int {
	labels := make([]int, len(b.Records))
	for i, r := range b.Records {
		labels[i] = r.Label
	}
	return labels
}

// Reply converts the batch to its wire form.
func (b PredictionBatch) Reply() framing.Reply {
	return framing.Reply{Labels: b.Labels()}
}

// #endregion predictions
