// Package dataset reads the two file formats of the harness: feature
// datasets (one comma-separated row per line) and ground-truth label files
// (one integer per line).
package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// maxLineSize bounds a single dataset line. 784 features at ~25 bytes each
// fit comfortably.
const maxLineSize = 4 << 20

// #region file-error
// FileError reports an unreadable or malformed dataset or label file.
type FileError struct {
	Path string
	Line int // 1-based, 0 when not tied to a line
	Err  error
}

func (e *FileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("file %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// #endregion file-error

// #region rows
// Rows iterates the non-blank lines of a feature dataset.
type Rows struct {
	path    string
	f       *os.File
	scanner *bufio.Scanner
	line    int
	cur     []byte
	err     error
}

// OpenRows opens a dataset file for iteration.
func OpenRows(path string) (*Rows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Rows{path: path, f: f, scanner: sc}, nil
}

// Next advances to the next non-blank line.
func (r *Rows) Next() bool {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		r.cur = line
		return true
	}
	if err := r.scanner.Err(); err != nil {
		r.err = &FileError{Path: r.path, Line: r.line + 1, Err: err}
	}
	return false
}

// Bytes returns the current row text without its line terminator. It is
// only valid until the next call to Next.
func (r *Rows) Bytes() []byte { return r.cur }

// Line returns the 1-based line number of the current row.
func (r *Rows) Line() int { return r.line }

// Err returns the first read error, if any.
func (r *Rows) Err() error { return r.err }

// Close releases the file.
func (r *Rows) Close() error { return r.f.Close() }

// #endregion rows

// #region labels
// ReadLabels loads a ground-truth file. Blank lines are skipped; any other
// non-integer line is an error.
func ReadLabels(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	defer f.Close()

	labels, err := ParseLabels(f)
	if err != nil {
		if fe, ok := err.(*FileError); ok {
			fe.Path = path
			return nil, fe
		}
		return nil, &FileError{Path: path, Err: err}
	}
	return labels, nil
}

// ParseLabels reads one integer label per line from r.
func ParseLabels(r io.Reader) ([]int, error) {
	var labels []int
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.Atoi(text)
		if err != nil {
			return nil, &FileError{Line: line, Err: fmt.Errorf("invalid label %q", text)}
		}
		labels = append(labels, v)
	}
	if err := sc.Err(); err != nil {
		return nil, &FileError{Line: line + 1, Err: err}
	}
	return labels, nil
}

// #endregion labels
