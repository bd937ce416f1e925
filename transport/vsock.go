// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// VsockListener listens on an AF_VSOCK socket, the hypervisor-guest
// transport twopence's other back-ends (serial, unix domain socket)
// stand in for on bare metal. CID identifies the guest; Port is the
// rexecd service port within that guest.
type VsockListener struct {
	fd   int
	cid  uint32
	port uint32
}

var _ Listener = (*VsockListener)(nil)

// ListenVsock binds and listens on cid:port.
func ListenVsock(cid, port uint32) (*VsockListener, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("rexecd/transport: socket(AF_VSOCK): %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrVM{CID: cid, Port: port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rexecd/transport: bind(vsock %d:%d): %w", cid, port, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rexecd/transport: listen(vsock %d:%d): %w", cid, port, err)
	}

	return &VsockListener{fd: fd, cid: cid, port: port}, nil
}

// Accept implements [Listener]. The returned [Stream] is backed by an
// *os.File wrapping the accepted socket descriptor.
func (l *VsockListener) Accept() (Stream, error) {
	nfd, _, err := unix.Accept(l.fd)
	if err != nil {
		return nil, fmt.Errorf("rexecd/transport: accept(vsock): %w", err)
	}
	return os.NewFile(uintptr(nfd), fmt.Sprintf("vsock-conn-%d", nfd)), nil
}

// Close implements [Listener].
func (l *VsockListener) Close() error {
	return unix.Close(l.fd)
}

// Addr implements [Listener].
func (l *VsockListener) Addr() string {
	return fmt.Sprintf("vsock:%d:%d", l.cid, l.port)
}
