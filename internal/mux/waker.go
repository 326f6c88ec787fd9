package mux

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Waker is a self-pipe used to interrupt a blocked Wait from another
// goroutine. The read end is watched like any other descriptor.
type Waker struct {
	readFD  int
	writeFD int
}

// NewWaker creates the non-blocking pipe backing a Waker.
func NewWaker() (*Waker, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("creating wake pipe: %w", err)
	}
	return &Waker{readFD: p[0], writeFD: p[1]}, nil
}

// FD returns the descriptor to watch for wakeups.
func (w *Waker) FD() int { return w.readFD }

// Wake makes the read end readable. It is safe to call from any goroutine.
func (w *Waker) Wake() {
	// A full pipe already guarantees a wakeup.
	_, _ = unix.Write(w.writeFD, []byte{1})
}

// Drain consumes every pending wakeup.
func (w *Waker) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.readFD, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close closes both ends of the pipe.
func (w *Waker) Close() error {
	return errors.Join(unix.Close(w.readFD), unix.Close(w.writeFD))
}
