package framing

import (
	"bytes"
	"fmt"
	"strconv"
)

// FeatureRow is one input record: D feature values in file order.
type FeatureRow []float32

// #region row-parser
// RowParser parses the textual form of a feature row. Dim is the expected
// number of fields; zero accepts any non-empty row.
type RowParser struct {
	Dim int
}

// Parse converts comma-separated decimal fields into a FeatureRow. Surrounding
// whitespace, including a trailing newline or carriage return, is ignored.
func (p RowParser) Parse(payload []byte) (FeatureRow, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, framingErr("parse row", fmt.Errorf("%w: empty record", ErrMalformedRow))
	}

	n := bytes.Count(payload, []byte{','}) + 1
	if p.Dim > 0 && n != p.Dim {
		return nil, framingErr("parse row", fmt.Errorf("%w: got %d fields, want %d", ErrMalformedRow, n, p.Dim))
	}

	row := make(FeatureRow, 0, n)
	for field := range bytes.SplitSeq(payload, []byte{','}) {
		v, err := strconv.ParseFloat(string(bytes.TrimSpace(field)), 32)
		if err != nil {
			return nil, framingErr("parse row", fmt.Errorf("%w: field %d: %v", ErrMalformedRow, len(row), err))
		}
		row = append(row, float32(v))
	}
	return row, nil
}

// #endregion row-parser

// #region format
// FormatRow renders row in the wire text form, using the shortest
// representation that parses back to the same float32.
func FormatRow(row FeatureRow) []byte {
	buf := make([]byte, 0, len(row)*8)
	for i, v := range row {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	}
	return buf
}

// #endregion format
