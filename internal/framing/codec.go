// Package framing implements the length-prefixed record protocol spoken
// between the evaluation client, the inference server and the controller.
//
// A frame is a big-endian int32 length followed by exactly that many payload
// bytes. A frame whose length is -1 carries no payload and marks the end of
// the feature stream; the connection stays open for the reply.
package framing

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// #region constants
const (
	headerSize = 4

	// EndOfStreamLength is the length value of the sentinel frame.
	EndOfStreamLength int32 = -1

	// DefaultMaxRecordSize bounds a single feature frame. 784 floats printed
	// with full precision stay well below this.
	DefaultMaxRecordSize = 1 << 20
)

// #endregion constants

// #region encoder
// Encoder writes frames to an underlying writer. It buffers output; callers
// must Flush (WriteEnd flushes implicitly).
type Encoder struct {
	w   *bufio.Writer
	hdr [headerSize]byte
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// WritePayload writes one frame carrying payload verbatim.
func (e *Encoder) WritePayload(payload []byte) error {
	if len(payload) > math.MaxInt32 {
		return framingErr("write frame", ErrRecordTooLarge)
	}
	binary.BigEndian.PutUint32(e.hdr[:], uint32(int32(len(payload))))
	if _, err := e.w.Write(e.hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// WriteRow encodes row as comma-separated text and writes it as one frame.
func (e *Encoder) WriteRow(row FeatureRow) error {
	return e.WritePayload(FormatRow(row))
}

// WriteEnd writes the end-of-stream sentinel and flushes.
func (e *Encoder) WriteEnd() error {
	// -1 in two's complement
	binary.BigEndian.PutUint32(e.hdr[:], math.MaxUint32)
	if _, err := e.w.Write(e.hdr[:]); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	return e.Flush()
}

// Flush pushes buffered frames to the underlying writer.
func (e *Encoder) Flush() error {
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush frames: %w", err)
	}
	return nil
}

// #endregion encoder

// #region decoder
// Decoder reads frames from an underlying reader.
type Decoder struct {
	r       io.Reader
	maxSize int
	hdr     [headerSize]byte
	buf     []byte
	ended   bool
}

// NewDecoder returns a Decoder that rejects frames longer than maxSize.
// A maxSize <= 0 selects DefaultMaxRecordSize.
func NewDecoder(r io.Reader, maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}
	return &Decoder{r: bufio.NewReader(r), maxSize: maxSize}
}

// Next returns the payload of the next frame. The returned slice is only
// valid until the following call. On the sentinel frame Next returns
// ErrEndOfStream, and keeps returning it afterwards.
func (d *Decoder) Next() ([]byte, error) {
	if d.ended {
		return nil, ErrEndOfStream
	}

	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		return nil, readErr("read header", err)
	}
	length := int32(binary.BigEndian.Uint32(d.hdr[:]))

	switch {
	case length == EndOfStreamLength:
		d.ended = true
		return nil, ErrEndOfStream
	case length < 0:
		return nil, framingErr("read header", fmt.Errorf("%w: %d", ErrNegativeLength, length))
	case int(length) > d.maxSize:
		return nil, framingErr("read header", fmt.Errorf("%w: %d > %d", ErrRecordTooLarge, length, d.maxSize))
	}

	if cap(d.buf) < int(length) {
		d.buf = make([]byte, length)
	}
	d.buf = d.buf[:length]
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return nil, readErr("read payload", err)
	}
	return d.buf, nil
}

// NextRow decodes the next frame and parses it with p.
func (d *Decoder) NextRow(p RowParser) (FeatureRow, error) {
	payload, err := d.Next()
	if err != nil {
		return nil, err
	}
	return p.Parse(payload)
}

// readErr maps io errors from a frame read. A clean or partial EOF means the
// peer went away without sending the sentinel; anything else (deadline,
// reset) is returned wrapped so callers can inspect it.
func readErr(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return framingErr(op, ErrTruncated)
	}
	return fmt.Errorf("framing: %s: %w", op, err)
}

// #endregion decoder
