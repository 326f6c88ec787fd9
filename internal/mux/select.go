package mux

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sys/unix"
)

// fdSetSize is FD_SETSIZE, the number of descriptors an fd_set can hold.
const fdSetSize = 1024

// selectMux is the fixed-size bitmap backend built on select(2). It only
// reports readability; errors and hangups surface through the read path.
type selectMux struct {
	master unix.FdSet
	// Watched descriptors in ascending order, which is also the scan order.
	fds    []int
	maxFD  int
	events []Event
}

func newSelectMux() *selectMux {
	s := &selectMux{maxFD: -1}
	s.master.Zero()
	return s
}

func (s *selectMux) Name() string { return SelectBackend }

func (s *selectMux) Add(fd int) error {
	if fd < 0 || fd >= fdSetSize {
		return fmt.Errorf("select: fd %d: %w", fd, ErrDescriptorRange)
	}
	if s.master.IsSet(fd) {
		return nil
	}

	s.master.Set(fd)
	i := sort.SearchInts(s.fds, fd)
	s.fds = append(s.fds, 0)
	copy(s.fds[i+1:], s.fds[i:])
	s.fds[i] = fd

	if fd > s.maxFD {
		s.maxFD = fd
	}
	return nil
}

func (s *selectMux) Remove(fd int) {
	if fd < 0 || fd >= fdSetSize || !s.master.IsSet(fd) {
		return
	}

	s.master.Clear(fd)
	i := sort.SearchInts(s.fds, fd)
	s.fds = append(s.fds[:i], s.fds[i+1:]...)

	s.maxFD = -1
	if n := len(s.fds); n > 0 {
		s.maxFD = s.fds[n-1]
	}
}

func (s *selectMux) Wait() ([]Event, error) {
	for {
		// select(2) overwrites the set it is given, so scan a copy.
		readSet := s.master
		n, err := unix.Select(s.maxFD+1, &readSet, nil, nil, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("select: %w", err)
		}

		s.events = s.events[:0]
		for _, fd := range s.fds {
			if len(s.events) == n {
				break
			}
			if readSet.IsSet(fd) {
				s.events = append(s.events, Event{FD: fd, Ready: Readable})
			}
		}
		return s.events, nil
	}
}

func (s *selectMux) Watched() []int {
	return append([]int(nil), s.fds...)
}
