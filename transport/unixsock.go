// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"net"
	"os"
)

// UnixListener listens on a Unix domain socket, removing any stale
// socket file left behind by a previous run before binding.
type UnixListener struct {
	inner net.Listener
	path  string
}

var _ Listener = (*UnixListener)(nil)

// ListenUnix binds a Unix domain socket at path with the given file
// mode. An existing file at path is removed first, mirroring the
// typical daemon-socket convention (see other_examples' cruciblehq/cruxd
// internal/server.listen, which does the same os.Remove-then-net.Listen
// sequence).
func ListenUnix(path string, mode os.FileMode) (*UnixListener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("rexecd/transport: removing stale socket %q: %w", path, err)
	}

	inner, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("rexecd/transport: listening on %q: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		inner.Close()
		return nil, fmt.Errorf("rexecd/transport: chmod %q: %w", path, err)
	}

	return &UnixListener{inner: inner, path: path}, nil
}

// Accept implements [Listener]. The returned [Stream] is a [net.Conn]
// (a *net.UnixConn dynamically); callers that want connection-level I/O
// logging or context-bound cancellation may type-assert it to net.Conn.
func (l *UnixListener) Accept() (Stream, error) {
	return l.inner.Accept()
}

// Close implements [Listener] and also removes the socket file.
func (l *UnixListener) Close() error {
	err := l.inner.Close()
	os.Remove(l.path)
	return err
}

// Addr implements [Listener].
func (l *UnixListener) Addr() string {
	return l.path
}
