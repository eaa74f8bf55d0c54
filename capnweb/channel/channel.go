// Package channel provides the transport abstraction capnweb sessions read
// and write frames over, mirroring creachadair/jrpc2's channel package: a
// minimal Send/Recv/Close interface with a handful of concrete
// implementations (newline-delimited JSON, WebSocket, HTTP batch).
package channel

import "io"

// A Channel represents the ability to transmit and receive length-delimited
// messages over a connection. Send and Recv need not be safe for concurrent
// use by multiple goroutines, matching jrpc2's channel contract; a Session
// serializes its own writes and reads.
type Channel interface {
	// Send transmits a single frame.
	Send([]byte) error

	// Recv blocks until a frame is available, the channel closes, or an
	// error occurs.
	Recv() ([]byte, error)

	// Close shuts down the channel. It is safe to call Close concurrently
	// with Send or Recv; any blocked call should return an error.
	io.Closer
}
