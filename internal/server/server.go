// Package server implements the single-threaded, readiness-multiplexed TCP
// server loop and the connection bookkeeping it relies on.
//
// Each round waits for readiness, dispatches every ready descriptor to the
// Registry or the Handler, and then commits the changes staged during the
// round. The watched set is only ever mutated in that final commit step.
package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/muxserver/internal/core"
	"github.com/dcrodman/muxserver/internal/core/debug"
	"github.com/dcrodman/muxserver/internal/mux"
)

const defaultReadBufferSize = 1024

var (
	readConn  = mux.Read
	writeConn = mux.Write
)

// Server owns a listening socket, the multiplexer watching it, and every
// connection accepted on it. A Server is driven by exactly one goroutine:
// Send may only be called from Handler callbacks and Close only after Serve
// has returned.
type Server struct {
	Config  *core.Config
	Handler Handler
	Logger  *logrus.Logger

	listenFD int
	port     int
	mux      mux.Multiplexer
	waker    *mux.Waker
	registry *Registry
	buffer   []byte
	closed   bool
}

// New sets up the listening socket and multiplexer described by cfg. Any
// failure here is a setup failure and nothing is left open.
func New(cfg *core.Config, handler Handler, logger *logrus.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("client handler can not be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m, err := mux.New(cfg.Backend)
	if err != nil {
		return nil, err
	}

	listenFD, err := mux.Listen(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("error creating socket on port %d: %w", cfg.Port, err)
	}

	port, err := mux.LocalPort(listenFD)
	if err != nil {
		mux.Close(listenFD)
		return nil, err
	}

	waker, err := mux.NewWaker()
	if err != nil {
		mux.Close(listenFD)
		return nil, err
	}

	for _, fd := range []int{listenFD, waker.FD()} {
		if err := m.Add(fd); err != nil {
			mux.Close(listenFD)
			waker.Close()
			return nil, fmt.Errorf("error watching descriptor %d: %w", fd, err)
		}
	}

	bufferSize := cfg.ReadBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultReadBufferSize
	}

	s := &Server{
		Config:   cfg,
		Handler:  handler,
		Logger:   logger,
		listenFD: listenFD,
		port:     port,
		mux:      m,
		waker:    waker,
		buffer:   make([]byte, bufferSize),
	}
	s.registry = newRegistry(listenFD, m, handler, s, logger, m.Name(), cfg.MaxConnections)

	logger.Infof("[%s] listening on port %d", m.Name(), port)
	return s, nil
}

// Port returns the port the server is bound to.
func (s *Server) Port() int { return s.port }

// Backend returns the name of the multiplexing backend in use.
func (s *Server) Backend() string { return s.mux.Name() }

// Serve runs rounds until the multiplexer fails or ctx is cancelled, in which
// case ctx.Err() is returned. The calling goroutine is locked to its OS
// thread for the duration.
func (s *Server) Serve(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stop := context.AfterFunc(ctx, s.waker.Wake)
	defer stop()

	s.Logger.Infof("[%s] waiting for connections", s.mux.Name())

	for {
		events, err := s.mux.Wait()
		if err != nil {
			return fmt.Errorf("[%s] waiting for readiness: %w", s.mux.Name(), err)
		}
		debug.DumpRound(s.Logger, s.mux.Name(), events)

		s.registry.Begin()

		woken := false
		for _, ev := range events {
			if ev.FD == s.waker.FD() {
				s.waker.Drain()
				woken = true
				continue
			}
			if err := s.dispatch(ev); err != nil {
				return err
			}
		}

		s.registry.Commit()

		if woken && ctx.Err() != nil {
			s.Logger.Infof("[%s] shutting down", s.mux.Name())
			return ctx.Err()
		}
	}
}

// dispatch classifies one ready descriptor. Only a broken listening socket is
// fatal; every per-connection condition ends in the removal path.
func (s *Server) dispatch(ev mux.Event) error {
	id := ConnID(ev.FD)

	if ev.Ready&mux.Invalid != 0 {
		if ev.FD == s.listenFD {
			return fmt.Errorf("[%s] listening socket %d is invalid", s.mux.Name(), ev.FD)
		}
		// Never close an invalid descriptor; the number may already belong to
		// something else.
		s.Logger.Warnf("[%s] invalid socket descriptor %d", s.mux.Name(), ev.FD)
		s.registry.MarkForRemoval(id, true)
		return nil
	}

	if ev.Ready&mux.Errored != 0 {
		if code, err := mux.SocketError(ev.FD); err != nil {
			s.Logger.Warnf("[%s] failed to get socket error for %d: %v", s.mux.Name(), ev.FD, err)
		} else {
			s.Logger.Warnf("[%s] socket error on %d: %v", s.mux.Name(), ev.FD, code)
		}
	}

	if ev.Ready&mux.HungUp != 0 {
		s.Logger.Debugf("[%s] peer hang up on %d", s.mux.Name(), ev.FD)
	}

	// Errors and hangups are torn down by the read that follows them.
	if ev.Ready&(mux.Readable|mux.Errored|mux.HungUp) != 0 {
		if ev.FD == s.listenFD {
			s.registry.Accept()
		} else {
			s.read(id)
		}
	}

	if ev.Ready&mux.Writable != 0 {
		s.Logger.Debugf("[%s] descriptor %d is ready to write", s.mux.Name(), ev.FD)
	}
	return nil
}

// read performs the single bounded read for a ready connection.
func (s *Server) read(id ConnID) {
	n, err := readConn(int(id), s.buffer)
	if n <= 0 && mux.WouldBlock(err) {
		// Spurious readiness; try again next round.
		return
	}
	if n <= 0 {
		if err != nil {
			s.Logger.Debugf("[%s] read from connection %d failed: %v", s.mux.Name(), id, err)
		} else {
			s.Logger.Debugf("[%s] connection %d closed by peer", s.mux.Name(), id)
		}
		s.registry.MarkForRemoval(id, false)
		return
	}

	s.Handler.OnData(s, id, s.buffer[:n])
}

// Send writes data to an open connection. Writes are best-effort: there is no
// outbound buffering, so a full send buffer results in a short write or, when
// nothing fits, 0 bytes and an error satisfying mux.WouldBlock.
func (s *Server) Send(id ConnID, data []byte) (int, error) {
	if !s.registry.IsOpen(id) {
		return 0, ErrConnClosed
	}
	return writeConn(int(id), data)
}

// Connections returns the IDs of every open connection.
func (s *Server) Connections() []ConnID {
	return s.registry.Connections()
}

// Watched returns the listening socket and every watched connection in scan
// order. The internal wake pipe is left out.
func (s *Server) Watched() []int {
	fds := s.mux.Watched()
	watched := fds[:0]
	for _, fd := range fds {
		if fd != s.waker.FD() {
			watched = append(watched, fd)
		}
	}
	return watched
}

// Close disconnects every client and closes the listening socket.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.registry.CloseAll()

	s.mux.Remove(s.listenFD)
	s.mux.Remove(s.waker.FD())
	return errors.Join(mux.Close(s.listenFD), s.waker.Close())
}
