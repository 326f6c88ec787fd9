package mux

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Listen creates an IPv4 TCP socket bound to the wildcard address on port and
// starts listening on it. The listening socket is non-blocking so that a
// connection which vanishes between the readiness report and the accept does
// not stall the loop. A port of 0 lets the kernel choose one (see LocalPort).
func Listen(port int) (int, error) {
	if port < 0 || port > 0xFFFF {
		return -1, fmt.Errorf("invalid port %d", port)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket creation failed: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR failed: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket binding on port %d failed: %w", port, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket listening failed: %w", err)
	}

	return fd, nil
}

// LocalPort returns the port the socket is bound to.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("getsockname: %w", err)
	}

	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return addr.Port, nil
	case *unix.SockaddrInet6:
		return addr.Port, nil
	default:
		return 0, fmt.Errorf("unexpected socket address type %T", sa)
	}
}

// Accept takes one pending connection off the listening socket. ok is false
// with a nil error when there was nothing to accept, which is not a failure.
// Accepted sockets are non-blocking so a client that stops reading can only
// ever cause short writes, never stall the loop.
func Accept(listenFD int) (fd int, ok bool, err error) {
	for {
		fd, _, err = unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return fd, true, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.ECONNABORTED):
			return -1, false, nil
		default:
			return -1, false, fmt.Errorf("accept: %w", err)
		}
	}
}

// SocketError returns the pending SO_ERROR code for fd.
func SocketError(fd int) (unix.Errno, error) {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	return unix.Errno(code), nil
}

// WouldBlock reports whether err means the operation should simply be tried
// again in a later round.
func WouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// Read performs a single bounded read. A non-positive n means the peer
// closed the connection or the read failed; check WouldBlock first.
func Read(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write issues a single write without retrying short writes. A full send
// buffer is reported as 0 bytes written and an error satisfying WouldBlock.
func Write(fd int, data []byte) (int, error) {
	n, err := unix.Write(fd, data)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}
