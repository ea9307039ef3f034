package framing

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// DefaultMaxReplySize bounds a reply payload read from the wire.
const DefaultMaxReplySize = 64 << 20

// #region reply
// Reply is the JSON body of a prediction batch message. LabelsKey is the
// documented field name; Error is set only on a failure indication, in which
// case Labels is omitted.
type Reply struct {
	Labels []int  `json:"Labels,omitempty"`
	Error  string `json:"Error,omitempty"`
}

// LabelsKey is the JSON key carrying the predicted labels.
const LabelsKey = "Labels"

// MarshalJSON keeps "Labels" present (as []) for an empty successful batch so
// receivers can tell it apart from an error reply.
func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error string `json:"Error"`
		}{r.Error})
	}
	labels := r.Labels
	if labels == nil {
		labels = []int{}
	}
	return json.Marshal(struct {
		Labels []int `json:"Labels"`
	}{labels})
}

// #endregion reply

// #region write-reply
// WriteReply writes r as an int32 big-endian byte length followed by its
// UTF-8 JSON encoding.
func WriteReply(w io.Writer, r Reply) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	if len(body) > math.MaxInt32 {
		return framingErr("write reply", ErrReplyTooLarge)
	}

	msg := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(msg, uint32(len(body)))
	copy(msg[headerSize:], body)
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

// #endregion write-reply

// #region read-reply
// ReadReply reads one reply message. A reply carrying an Error is returned
// together with a *RemoteError.
func ReadReply(r io.Reader, maxSize int) (Reply, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxReplySize
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Reply{}, readErr("read reply header", err)
	}
	length := int32(binary.BigEndian.Uint32(hdr[:]))
	if length < 0 {
		return Reply{}, framingErr("read reply header", fmt.Errorf("%w: %d", ErrNegativeLength, length))
	}
	if int(length) > maxSize {
		return Reply{}, framingErr("read reply header", fmt.Errorf("%w: %d > %d", ErrReplyTooLarge, length, maxSize))
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Reply{}, readErr("read reply payload", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Reply{}, framingErr("decode reply", fmt.Errorf("%w: %v", ErrMalformedReply, err))
	}

	var reply Reply
	if msg, ok := raw["Error"]; ok {
		if err := json.Unmarshal(msg, &reply.Error); err != nil {
			return Reply{}, framingErr("decode reply", fmt.Errorf("%w: %v", ErrMalformedReply, err))
		}
		return reply, &RemoteError{Message: reply.Error}
	}

	labels, ok := raw[LabelsKey]
	if !ok {
		return Reply{}, framingErr("decode reply", fmt.Errorf("%w: missing %q", ErrMalformedReply, LabelsKey))
	}
	if err := json.Unmarshal(labels, &reply.Labels); err != nil {
		return Reply{}, framingErr("decode reply", fmt.Errorf("%w: %v", ErrMalformedReply, err))
	}
	if reply.Labels == nil {
		reply.Labels = []int{}
	}
	return reply, nil
}

// #endregion read-reply
