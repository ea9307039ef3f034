package eval

import (
	"errors"
	"fmt"
)

// #region confusion-matrix
// ConfusionMatrix counts (true class, predicted class) pairs. Rows are
// ground truth, columns are predictions.
type ConfusionMatrix struct {
	classes int
	cells   []int
}

// NewConfusionMatrix returns an all-zero C×C matrix.
func NewConfusionMatrix(classes int) *ConfusionMatrix {
	if classes < 0 {
		classes = 0
	}
	return &ConfusionMatrix{classes: classes, cells: make([]int, classes*classes)}
}

// FromRows rebuilds a matrix from its row-major form, e.g. after storage.
func FromRows(rows [][]int) (*ConfusionMatrix, error) {
	m := NewConfusionMatrix(len(rows))
	for i, row := range rows {
		if len(row) != len(rows) {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), len(rows))
		}
		for j, v := range row {
			if v < 0 {
				return nil, fmt.Errorf("negative count at [%d][%d]", i, j)
			}
			m.cells[i*m.classes+j] = v
		}
	}
	return m, nil
}

// Classes returns C.
func (m *ConfusionMatrix) Classes() int { return m.classes }

// At returns M[truth][predicted].
func (m *ConfusionMatrix) At(truth, predicted int) int {
	return m.cells[truth*m.classes+predicted]
}

// Record counts one sample. It reports false, leaving the matrix unchanged,
// when either label is outside [0, C).
func (m *ConfusionMatrix) Record(truth, predicted int) bool {
	if truth < 0 || truth >= m.classes || predicted < 0 || predicted >= m.classes {
		return false
	}
	m.cells[truth*m.classes+predicted]++
	return true
}

// Total returns the number of counted samples.
func (m *ConfusionMatrix) Total() int {
	n := 0
	for _, v := range m.cells {
		n += v
	}
	return n
}

// Rows returns a row-major copy.
func (m *ConfusionMatrix) Rows() [][]int {
	rows := make([][]int, m.classes)
	for i := range rows {
		rows[i] = append([]int(nil), m.cells[i*m.classes:(i+1)*m.classes]...)
	}
	return rows
}

// Add accumulates other into m. Both must have the same class count.
func (m *ConfusionMatrix) Add(other *ConfusionMatrix) error {
	if other.classes != m.classes {
		return fmt.Errorf("class count mismatch: %d vs %d", m.classes, other.classes)
	}
	for i, v := range other.cells {
		m.cells[i] += v
	}
	return nil
}

// #endregion confusion-matrix

// #region build
// ErrLabelCount is returned when fewer ground-truth labels than predictions
// are available.
var ErrLabelCount = errors.New("ground truth has fewer labels than predictions")

// BuildMatrix counts every index-aligned (truth, predicted) pair. Extra
// ground-truth labels beyond len(predicted) are ignored. Pairs with a label
// outside [0, classes) are skipped and their count returned.
func BuildMatrix(classes int, truth, predicted []int) (*ConfusionMatrix, int, error) {
	if len(truth) < len(predicted) {
		return nil, 0, fmt.Errorf("%w: %d < %d", ErrLabelCount, len(truth), len(predicted))
	}
	m := NewConfusionMatrix(classes)
	skipped := 0
	for i, p := range predicted {
		if !m.Record(truth[i], p) {
			skipped++
		}
	}
	return m, skipped, nil
}

// #endregion build

// #region skipped
// SkippedIndices returns the sample indices BuildMatrix skips because a
// truth or predicted label lies outside [0, classes).
func SkippedIndices(classes int, truth, predicted []int) []int {
	var idx []int
	for i, p := range predicted {
		if i >= len(truth) {
			break
		}
		t := truth[i]
		if t < 0 || t >= classes || p < 0 || p >= classes {
			idx = append(idx, i)
		}
	}
	return idx
}

// #endregion skipped
