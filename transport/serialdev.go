// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: vsrinivas-fuchsia/botanist/serial_device.go (a thin
// io.ReadWriteCloser wrapper around an opened serial device) and the
// termios save/restore idiom exercised by nabbar-golib/shell/tty's
// test suite (put the device in raw mode on open, restore the
// original termios on close).
//

package transport

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// SerialDevice is a [Stream] backed by a serial character device, put
// into raw mode (no line discipline, no echo, one byte at a time) for
// the duration it is open.
type SerialDevice struct {
	file     *os.File
	saved    unix.Termios
	restored bool
	mu       sync.Mutex
}

// openSerialDevice opens path, saves its current termios settings, and
// switches it to raw mode.
func openSerialDevice(path string) (*SerialDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("rexecd/transport: opening %q: %w", path, err)
	}

	saved, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("rexecd/transport: getting termios for %q: %w", path, err)
	}

	raw := *saved
	cfmakeraw(&raw)
	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, &raw); err != nil {
		f.Close()
		return nil, fmt.Errorf("rexecd/transport: setting raw termios for %q: %w", path, err)
	}

	return &SerialDevice{file: f, saved: *saved}, nil
}

// cfmakeraw mirrors glibc's cfmakeraw(3): disable canonical mode, echo,
// signal generation and input/output processing, and read one byte at
// a time with no inter-byte timeout.
func cfmakeraw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

// Read implements [Stream].
func (d *SerialDevice) Read(p []byte) (int, error) { return d.file.Read(p) }

// Write implements [Stream].
func (d *SerialDevice) Write(p []byte) (int, error) { return d.file.Write(p) }

// Close restores the device's original termios settings and closes the
// underlying file, exactly once.
func (d *SerialDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.restored {
		return nil
	}
	d.restored = true
	_ = unix.IoctlSetTermios(int(d.file.Fd()), unix.TCSETS, &d.saved)
	return d.file.Close()
}

// SerialListener adapts a single [SerialDevice] to the [Listener]
// interface: a serial line has exactly one peer, so Accept delivers
// the device once and then blocks until the listener is closed,
// mirroring a point-to-point link rather than a socket's repeated
// accept loop.
type SerialListener struct {
	dev    *SerialDevice
	path   string
	ch     chan Stream
	closed chan struct{}
	once   sync.Once
}

var _ Listener = (*SerialListener)(nil)

// ListenSerial opens the serial device at path in raw mode and returns
// a [Listener] that hands it out exactly once.
func ListenSerial(path string) (*SerialListener, error) {
	dev, err := openSerialDevice(path)
	if err != nil {
		return nil, err
	}
	l := &SerialListener{
		dev:    dev,
		path:   path,
		ch:     make(chan Stream, 1),
		closed: make(chan struct{}),
	}
	l.ch <- dev
	return l, nil
}

// Accept implements [Listener].
func (l *SerialListener) Accept() (Stream, error) {
	select {
	case s := <-l.ch:
		return s, nil
	case <-l.closed:
		return nil, fmt.Errorf("rexecd/transport: serial listener %q closed", l.path)
	}
}

// Close implements [Listener].
func (l *SerialListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.dev.Close()
	})
	return err
}

// Addr implements [Listener].
func (l *SerialListener) Addr() string { return l.path }
