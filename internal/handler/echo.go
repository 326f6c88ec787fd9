package handler

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/muxserver/internal/server"
)

// Echo writes every payload it receives back to the connection it came from.
type Echo struct {
	Logger *logrus.Logger
}

func NewEcho(logger *logrus.Logger) *Echo {
	return &Echo{Logger: logger}
}

func (e *Echo) OnConnect(s server.Sender, id server.ConnID) {
	e.Logger.Infof("[echo] client connected: %d", id)
}

func (e *Echo) OnData(s server.Sender, id server.ConnID, data []byte) {
	e.Logger.Infof("[echo] client %d: %s", id, bytes.TrimRight(data, "\r\n"))

	// Best-effort; short or failed writes are not retried.
	if n, err := s.Send(id, data); err != nil || n < len(data) {
		e.Logger.Debugf("[echo] short write to client %d (%d of %d bytes): %v", id, n, len(data), err)
	}
}

func (e *Echo) OnDisconnect(s server.Sender, id server.ConnID) {
	e.Logger.Infof("[echo] client disconnected: %d", id)
}
