package server

import (
	"fmt"
	"log/slog"
)

// session tracks the state of one connection and logs every transition.
type session struct {
	id    string
	state State
	log   *slog.Logger
}

func newSession(id string, log *slog.Logger) *session {
	s := &session{id: id, state: StateAccepted, log: log}
	log.Debug("connection state", "state", s.state)
	return s
}

// advance moves to the next state. Terminal states are final.
func (s *session) advance(to State) {
	if s.state.Terminal() {
		s.log.Error("connection state", "error", fmt.Sprintf("transition %s -> %s after terminal state", s.state, to))
		return
	}
	s.log.Debug("connection state", "from", s.state, "state", to)
	s.state = to
}

// fail moves to FAILED from any non-terminal state.
func (s *session) fail(err error) {
	from := s.state
	if from.Terminal() {
		return
	}
	s.state = StateFailed
	s.log.Warn("connection failed", "from", from, "state", StateFailed, "error", err)
}
