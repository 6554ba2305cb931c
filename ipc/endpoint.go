package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Dialer opens one named channel endpoint.
type Dialer interface {
	Dial(ctx context.Context, name string) (net.Conn, error)
}

// UnixDialer dials channels as unix domain sockets inside Dir.
type UnixDialer struct {
	Dir string
}

// Path returns the socket path for a channel name.
func (d UnixDialer) Path(name string) string {
	return filepath.Join(d.Dir, name)
}

// Dial connects to the named socket.
func (d UnixDialer) Dial(ctx context.Context, name string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(ctx, "unix", d.Path(name))
}

// isNotYetAvailable reports whether a dial failed only because the engine
// has not created or started listening on the endpoint yet.
func isNotYetAvailable(err error) bool {
	return errors.Is(err, unix.ENOENT) ||
		errors.Is(err, unix.ECONNREFUSED) ||
		errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, context.DeadlineExceeded)
}

// isAccessDenied reports whether a dial failed for permission reasons,
// which retrying cannot fix.
func isAccessDenied(err error) bool {
	return errors.Is(err, unix.EACCES) ||
		errors.Is(err, unix.EPERM) ||
		errors.Is(err, os.ErrPermission)
}

// isExpectedClose reports whether a read error is a normal end of the
// connection rather than a fault worth logging loudly.
func isExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
		return true
	}
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
