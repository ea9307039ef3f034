package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region helpers
func header(n int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	return b[:]
}

func encodeRows(t *testing.T, rows []FeatureRow, end bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, r := range rows {
		require.NoError(t, enc.WriteRow(r))
	}
	if end {
		require.NoError(t, enc.WriteEnd())
	} else {
		require.NoError(t, enc.Flush())
	}
	return buf.Bytes()
}

// #endregion helpers

// #region round-trip
func TestRoundTrip(t *testing.T) {
	rows := []FeatureRow{
		{0, 0.5, 1},
		{-3.25, 1e-7, 255, 0.1},
		{42},
	}
	wire := encodeRows(t, rows, true)

	dec := NewDecoder(bytes.NewReader(wire), 0)
	var got []FeatureRow
	for {
		row, err := dec.NextRow(RowParser{})
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		got = append(got, row)
	}
	assert.Equal(t, rows, got)

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrEndOfStream, "sentinel is sticky")
}

func TestRoundTrip_ShortReads(t *testing.T) {
	rows := []FeatureRow{{1, 2, 3}, {4, 5, 6}}
	wire := encodeRows(t, rows, true)

	dec := NewDecoder(iotest.OneByteReader(bytes.NewReader(wire)), 0)
	for _, want := range rows {
		got, err := dec.NextRow(RowParser{Dim: 3})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestPayloadIsNotNewlineDelimited(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WritePayload([]byte("1,2\n3,4")))
	require.NoError(t, enc.WriteEnd())

	dec := NewDecoder(&buf, 0)
	payload, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "1,2\n3,4", string(payload))
}

// #endregion round-trip

// #region errors
func TestDecoder_TruncatedWithoutSentinel(t *testing.T) {
	wire := encodeRows(t, []FeatureRow{{1}, {2}, {3}}, false)
	dec := NewDecoder(bytes.NewReader(wire), 0)

	for i := 0; i < 3; i++ {
		_, err := dec.Next()
		require.NoError(t, err)
	}
	_, err := dec.Next()
	require.Error(t, err)
	assert.True(t, IsFramingError(err))
	assert.ErrorIs(t, err, ErrTruncated)
	assert.NotErrorIs(t, err, ErrEndOfStream)
}

func TestDecoder_TruncatedPayload(t *testing.T) {
	wire := append(header(10), []byte("1,2,3")...)
	dec := NewDecoder(bytes.NewReader(wire), 0)

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecoder_PartialHeader(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0, 0}), 0)
	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecoder_NegativeLength(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(header(-2)), 0)
	_, err := dec.Next()
	assert.True(t, IsFramingError(err))
	assert.ErrorIs(t, err, ErrNegativeLength)
}

func TestDecoder_RecordTooLarge(t *testing.T) {
	wire := append(header(17), bytes.Repeat([]byte("1"), 17)...)
	dec := NewDecoder(bytes.NewReader(wire), 16)
	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestDecoder_ReaderErrorPassesThrough(t *testing.T) {
	boom := errors.New("connection reset")
	dec := NewDecoder(iotest.ErrReader(boom), 0)
	_, err := dec.Next()
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsFramingError(err))
}

func TestDecoder_ZeroLengthFrame(t *testing.T) {
	wire := append(header(0), header(-1)...)
	dec := NewDecoder(bytes.NewReader(wire), 0)

	payload, err := dec.Next()
	require.NoError(t, err)
	assert.Empty(t, payload)

	_, err = RowParser{}.Parse(payload)
	assert.ErrorIs(t, err, ErrMalformedRow)

	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

// #endregion errors

func TestEncoder_SentinelBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).WriteEnd())
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, buf.Bytes())
}

func TestEncoder_WriteErrorSurfaces(t *testing.T) {
	enc := NewEncoder(failingWriter{})
	require.NoError(t, enc.WriteRow(FeatureRow{1}))
	assert.Error(t, enc.WriteEnd())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
