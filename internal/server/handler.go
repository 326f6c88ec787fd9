package server

import "errors"

// ErrConnClosed is returned by Send for a connection that is not open.
var ErrConnClosed = errors.New("connection is not open")

// ConnID identifies a client connection. It is the connection's socket
// descriptor, so it is only unique while the connection is open; the kernel
// may hand the same value to a later connection once OnDisconnect has fired.
type ConnID int

// Sender writes to open connections on behalf of a Handler.
type Sender interface {
	// Send writes data to the connection without buffering or retrying
	// short writes. IDs that are not open are refused with ErrConnClosed.
	Send(id ConnID, data []byte) (int, error)
}

// Handler is the extension point for implementing a protocol on top of the
// server loop. Every method is called synchronously on the server goroutine,
// so a slow Handler stalls every connection.
type Handler interface {
	// OnConnect is called as soon as a connection is accepted.
	OnConnect(s Sender, id ConnID)

	// OnData is called with the bytes returned by a single read. Message
	// framing is the Handler's responsibility. data is reused by the server
	// after OnData returns.
	OnData(s Sender, id ConnID, data []byte)

	// OnDisconnect is called exactly once per connection, after its socket has
	// been closed. It may be called for a connection that never sent data.
	OnDisconnect(s Sender, id ConnID)
}
