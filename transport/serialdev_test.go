// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCfmakerawClearsCanonicalModeAndEcho(t *testing.T) {
	var termios unix.Termios
	termios.Lflag = unix.ICANON | unix.ECHO | unix.ISIG
	termios.Iflag = unix.ICRNL | unix.IXON
	termios.Oflag = unix.OPOST
	termios.Cflag = unix.PARENB

	cfmakeraw(&termios)

	assert.Zero(t, termios.Lflag&unix.ICANON)
	assert.Zero(t, termios.Lflag&unix.ECHO)
	assert.Zero(t, termios.Iflag&unix.ICRNL)
	assert.Zero(t, termios.Oflag&unix.OPOST)
	assert.NotZero(t, termios.Cflag&unix.CS8)
	assert.EqualValues(t, 1, termios.Cc[unix.VMIN])
	assert.EqualValues(t, 0, termios.Cc[unix.VTIME])
}

// TestSerialListenerDeliversDeviceOnceThenBlocks exercises Accept's
// point-to-point semantics directly against a SerialListener literal,
// without opening a real serial device (there usually isn't one to
// open in a test environment).
func TestSerialListenerDeliversDeviceOnceThenBlocks(t *testing.T) {
	dev := &SerialDevice{}
	l := &SerialListener{
		path:   "/dev/fake",
		ch:     make(chan Stream, 1),
		closed: make(chan struct{}),
		dev:    dev,
	}
	l.ch <- dev

	got, err := l.Accept()
	require.NoError(t, err)
	assert.Same(t, Stream(dev), got)

	done := make(chan struct{})
	go func() {
		_, err := l.Accept()
		assert.Error(t, err)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Accept returned before the listener was closed")
	case <-time.After(50 * time.Millisecond):
	}

	close(l.closed)
	<-done
	assert.Equal(t, "/dev/fake", l.Addr())
}
