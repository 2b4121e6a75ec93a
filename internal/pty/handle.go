// Package pty multiplexes native pseudo-terminals opened on behalf of
// connected clients: one shell per terminal id, a bounded merged output
// stream, and a per-terminal command channel for input, resize, and kill.
package pty

import "io"

// Handle abstracts PTY operations across Unix and Windows so the rest of
// the package never branches on GOOS.
type Handle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}
