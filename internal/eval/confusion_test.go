package eval

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfusionMatrix_Record(t *testing.T) {
	m := NewConfusionMatrix(3)
	assert.True(t, m.Record(0, 2))
	assert.True(t, m.Record(0, 2))
	assert.False(t, m.Record(3, 0))
	assert.False(t, m.Record(0, -1))

	assert.Equal(t, 2, m.At(0, 2))
	assert.Equal(t, 2, m.Total())
}

func TestConfusionMatrix_FromRowsAndAdd(t *testing.T) {
	a, err := FromRows([][]int{{1, 2}, {3, 4}})
	require.NoError(t, err)
	b, err := FromRows([][]int{{1, 0}, {0, 1}})
	require.NoError(t, err)

	require.NoError(t, a.Add(b))
	assert.Equal(t, [][]int{{2, 2}, {3, 5}}, a.Rows())
	assert.Equal(t, 12, a.Total())

	assert.Error(t, a.Add(NewConfusionMatrix(3)))
}

func TestFromRows_Invalid(t *testing.T) {
	_, err := FromRows([][]int{{1, 2}, {3}})
	assert.Error(t, err)
	_, err = FromRows([][]int{{-1}})
	assert.Error(t, err)
}

func TestRows_IsACopy(t *testing.T) {
	m := NewConfusionMatrix(2)
	m.Record(1, 1)
	rows := m.Rows()
	rows[1][1] = 99
	assert.Equal(t, 1, m.At(1, 1))
}

func TestWriteReport(t *testing.T) {
	cfg := DefaultEvalConfig()
	cfg.Classes = 2
	r, err := NewEvalHarness(cfg).Run([]int{0, 1}, []int{1, 0})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, "batch", r))
	out := buf.String()

	assert.Contains(t, out, "== batch ==")
	assert.Contains(t, out, "Confusion matrix")
	assert.Contains(t, out, "undefined")
	assert.Contains(t, out, "WARNING overall accuracy")
	assert.Contains(t, out, "TP=0 FP=2 FN=2 TN=0")
}

func TestSkippedIndices(t *testing.T) {
	idx := SkippedIndices(3, []int{0, 3, 1, -1, 2}, []int{0, 1, 7, 0, 2})
	assert.Equal(t, []int{1, 2, 3}, idx)

	_, skipped, err := BuildMatrix(3, []int{0, 3, 1, -1, 2}, []int{0, 1, 7, 0, 2})
	require.NoError(t, err)
	assert.Len(t, idx, skipped)
}
