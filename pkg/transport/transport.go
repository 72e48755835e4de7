// Package transport owns the physical duplex connection to the chat server.
//
// A Conn carries opaque text frames in both directions and reports closure
// through the error return of ReadFrame. The session layer above decides what
// the frames mean; transport knows nothing about the protocol.
package transport

import (
	"context"
	"net/http"
)

// Conn is one physical duplex connection.
//
// ReadFrame blocks until the next frame arrives and returns a non-nil error
// exactly once, when the connection is closed or broken. WriteFrame is safe
// for concurrent use. Close is idempotent.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Dialer opens transport connections. Implementations must honor the context
// for the duration of the dial.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}
