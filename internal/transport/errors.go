package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	// ErrPeerClosed reports a read or write that made zero progress while
	// bytes were still expected. The connection is unusable afterwards.
	ErrPeerClosed = errors.New("transport: peer closed connection")

	// ErrNotConnected is returned by frame operations once the transport
	// has been closed or has observed a fatal I/O failure.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrFrameOverflow reports a frame whose declared payload exceeds the
	// configured frame maximum and so cannot fit the read buffer.
	ErrFrameOverflow = errors.New("transport: frame exceeds configured maximum")
)

// ConnectionError wraps the failure that ended a connection attempt:
// resolution produced nothing usable, every candidate address refused, or
// the TLS handshake failed. The caller retries by dialing a new Transport.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// UnexpectedFrameError reports a frame terminator byte other than 0xCE.
// The stream is presumed desynchronized; there is no recovery short of a
// new connection.
type UnexpectedFrameError struct {
	Byte byte
}

func (e *UnexpectedFrameError) Error() string {
	return fmt.Sprintf("transport: received 0x%02X while expecting frame terminator 0xCE", e.Byte)
}

// IsTimeout reports whether err is a network timeout. Timeouts never clear
// the connected flag; the caller may retry the frame operation.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Per-variant transient sets for the exact-read loop. TLS adds ENOENT,
// which the record layer can surface for an operation that could not be
// performed yet.
var (
	tcpReadErrnos = []syscall.Errno{unix.EAGAIN, unix.EINTR}
	tlsReadErrnos = []syscall.Errno{unix.EAGAIN, unix.EINTR, unix.ENOENT}
)

// unavailErrnos is the classification set: errors carrying one of these
// codes never count as fatal and leave the connected flag alone.
var unavailErrnos = []syscall.Errno{unix.EAGAIN, unix.EINTR, unix.ENOENT}

func errnoIn(err error, set []syscall.Errno) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, e := range set {
		if errno == e {
			return true
		}
	}
	return false
}
