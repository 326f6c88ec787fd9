package mux

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// pollMux is the descriptor-array backend built on poll(2).
type pollMux struct {
	fds    []unix.PollFd
	events []Event
}

func newPollMux() *pollMux {
	return &pollMux{}
}

func (p *pollMux) Name() string { return PollBackend }

func (p *pollMux) Add(fd int) error {
	if fd < 0 {
		return fmt.Errorf("poll: fd %d: %w", fd, ErrDescriptorRange)
	}
	if p.indexOf(fd) >= 0 {
		return nil
	}

	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	return nil
}

func (p *pollMux) Remove(fd int) {
	if i := p.indexOf(fd); i >= 0 {
		p.fds = append(p.fds[:i], p.fds[i+1:]...)
	}
}

func (p *pollMux) indexOf(fd int) int {
	for i := range p.fds {
		if int(p.fds[i].Fd) == fd {
			return i
		}
	}
	return -1
}

func (p *pollMux) Wait() ([]Event, error) {
	for {
		n, err := unix.Poll(p.fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}

		p.events = p.events[:0]
		for i := range p.fds {
			if len(p.events) == n {
				break
			}
			if ready := readinessOf(p.fds[i].Revents); ready != 0 {
				p.events = append(p.events, Event{FD: int(p.fds[i].Fd), Ready: ready})
			}
		}
		return p.events, nil
	}
}

func (p *pollMux) Watched() []int {
	fds := make([]int, len(p.fds))
	for i := range p.fds {
		fds[i] = int(p.fds[i].Fd)
	}
	return fds
}

func readinessOf(revents int16) Readiness {
	var r Readiness
	if revents&unix.POLLNVAL != 0 {
		r |= Invalid
	}
	if revents&unix.POLLERR != 0 {
		r |= Errored
	}
	if revents&unix.POLLHUP != 0 {
		r |= HungUp
	}
	if revents&unix.POLLIN != 0 {
		r |= Readable
	}
	if revents&unix.POLLOUT != 0 {
		r |= Writable
	}
	return r
}
