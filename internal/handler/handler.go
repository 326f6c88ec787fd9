// Package handler contains the connection handlers that can be hosted by the
// server: a byte-for-byte echo and a broadcast chat room.
package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/muxserver/internal/core"
	"github.com/dcrodman/muxserver/internal/server"
)

// ErrUnknownHandler is returned by New for an unsupported handler name.
var ErrUnknownHandler = errors.New("unknown connection handler")

// New returns the handler selected in the config.
func New(cfg *core.Config, logger *logrus.Logger) (server.Handler, error) {
	switch strings.ToLower(cfg.Handler) {
	case core.HandlerEcho:
		return NewEcho(logger), nil
	case core.HandlerChat:
		return NewChat(cfg.ChatServer.Prompt, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, cfg.Handler)
	}
}
