package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRows_SkipsBlankLines(t *testing.T) {
	path := writeFile(t, "x_test.csv", "1,2,3\n\n4,5,6\r\n   \n7,8,9")

	rows, err := OpenRows(path)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	var lines []int
	for rows.Next() {
		got = append(got, string(rows.Bytes()))
		lines = append(lines, rows.Line())
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"1,2,3", "4,5,6", "7,8,9"}, got)
	assert.Equal(t, []int{1, 3, 5}, lines)
}

func TestRows_MissingFile(t *testing.T) {
	_, err := OpenRows(filepath.Join(t.TempDir(), "nope.csv"))
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRows_LongLine(t *testing.T) {
	long := strings.Repeat("0.123456,", 783) + "0.5"
	path := writeFile(t, "wide.csv", long+"\n")

	rows, err := OpenRows(path)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	assert.Equal(t, long, string(rows.Bytes()))
	assert.False(t, rows.Next())
}

func TestReadLabels(t *testing.T) {
	path := writeFile(t, "y_test.csv", "7\n2\n\n1\n 0 \n")
	labels, err := ReadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 2, 1, 0}, labels)
}

func TestReadLabels_Invalid(t *testing.T) {
	path := writeFile(t, "y_test.csv", "7\nseven\n")
	_, err := ReadLabels(path)

	var fe *FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, path, fe.Path)
	assert.Equal(t, 2, fe.Line)
}

func TestReadLabels_Missing(t *testing.T) {
	_, err := ReadLabels(filepath.Join(t.TempDir(), "labels.csv"))
	var fe *FileError
	assert.True(t, errors.As(err, &fe))
}

func TestParseLabels_Empty(t *testing.T) {
	labels, err := ParseLabels(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, labels)
}
