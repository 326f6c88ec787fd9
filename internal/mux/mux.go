// Package mux contains the readiness multiplexing backends used by the server
// loop along with the raw socket helpers they operate on.
//
// Both backends watch a set of file descriptors for readability and block the
// calling goroutine (and its OS thread) until at least one of them is ready.
// Neither backend is safe for concurrent use; each one is owned by exactly one
// server loop.
package mux

import (
	"errors"
	"fmt"
	"strings"
)

// Supported backend kinds.
const (
	SelectBackend = "select"
	PollBackend   = "poll"
)

var (
	// ErrUnknownBackend is returned by New for an unsupported backend kind.
	ErrUnknownBackend = errors.New("unknown multiplexing backend")
	// ErrDescriptorRange is returned when a descriptor cannot be represented
	// by the backend (select is limited to FD_SETSIZE descriptors).
	ErrDescriptorRange = errors.New("descriptor out of range for backend")
)

// Readiness is the set of conditions the kernel reported for a descriptor.
type Readiness uint8

const (
	// Invalid means the descriptor is not open (POLLNVAL).
	Invalid Readiness = 1 << iota
	// Errored means a socket-level error is pending (POLLERR).
	Errored
	// HungUp means the peer closed its side of the connection (POLLHUP).
	HungUp
	// Readable means a read (or accept) will not block.
	Readable
	// Writable means a write will not block.
	Writable
)

func (r Readiness) String() string {
	if r == 0 {
		return "none"
	}

	var names []string
	for _, flag := range []struct {
		bit  Readiness
		name string
	}{
		{Invalid, "invalid"},
		{Errored, "error"},
		{HungUp, "hangup"},
		{Readable, "readable"},
		{Writable, "writable"},
	} {
		if r&flag.bit != 0 {
			names = append(names, flag.name)
		}
	}
	return strings.Join(names, "|")
}

// Event is a single ready descriptor returned from Wait.
type Event struct {
	FD    int
	Ready Readiness
}

// Multiplexer is the contract implemented by the select and poll backends.
type Multiplexer interface {
	// Name returns the backend kind.
	Name() string

	// Add starts watching fd for readability.
	Add(fd int) error

	// Remove stops watching fd. Removing a descriptor that is not watched is a no-op.
	Remove(fd int)

	// Wait blocks until at least one watched descriptor is ready and returns
	// the ready descriptors in the backend's scan order (ascending descriptor
	// order for select, registration order for poll). There is no timeout.
	// The returned slice is only valid until the next call to Wait.
	Wait() ([]Event, error)

	// Watched returns a snapshot of the watched descriptors in scan order.
	Watched() []int
}

// New returns the backend identified by kind.
func New(kind string) (Multiplexer, error) {
	switch strings.ToLower(kind) {
	case SelectBackend:
		return newSelectMux(), nil
	case PollBackend:
		return newPollMux(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}
