// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"io"
	"sync"
)

// channelDirection distinguishes a source (local fd -> peer) from a
// sink (peer -> local fd).
type channelDirection int

const (
	channelSource channelDirection = iota
	channelSink
)

// Channel is a single directional byte conduit between a local file
// descriptor and one side of a [Transaction]. A source reads from a
// local descriptor and hands bytes to its owning [Connection] as
// outbound DATA packets; a sink receives DATA payload from the peer
// and writes it to a local descriptor.
//
// A source's read-EOF becomes true exactly once, triggering exactly
// one outbound EOF packet and at most one read-EOF hook invocation. A
// sink's write-EOF becomes true exactly once, flushing any pending
// bytes before firing its write-EOF hook.
type Channel struct {
	tid       uint16
	cid       uint16
	name      string
	direction channelDirection

	src  io.ReadCloser
	sink io.WriteCloser

	mu         sync.Mutex
	readEOF    bool
	writeEOF   bool
	onReadEOF  func()
	onWriteEOF func()
	closeOnce  sync.Once
}

// NewSourceChannel returns a [Channel] that reads from fd and hands
// bytes toward the peer.
func NewSourceChannel(tid, cid uint16, name string, fd io.ReadCloser) *Channel {
	return &Channel{tid: tid, cid: cid, name: name, direction: channelSource, src: fd}
}

// NewSinkChannel returns a [Channel] that writes bytes received from
// the peer into fd.
func NewSinkChannel(tid, cid uint16, name string, fd io.WriteCloser) *Channel {
	return &Channel{tid: tid, cid: cid, name: name, direction: channelSink, sink: fd}
}

// TransactionID returns the owning transaction's id.
func (c *Channel) TransactionID() uint16 { return c.tid }

// ID returns the channel id (one of [ChannelFile], [ChannelStdin],
// [ChannelStdout], [ChannelStderr]).
func (c *Channel) ID() uint16 { return c.cid }

// Name returns the channel's symbolic name for diagnostics (e.g.
// "stdout", "file").
func (c *Channel) Name() string { return c.name }

// IsSource reports whether this channel reads from a local fd.
func (c *Channel) IsSource() bool { return c.direction == channelSource }

// SetReadEOFHook installs a one-shot hook fired the first time
// [Channel.MarkReadEOF] runs. Must be called before the channel
// begins pumping.
func (c *Channel) SetReadEOFHook(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReadEOF = fn
}

// SetWriteEOFHook installs a one-shot hook fired the first time
// [Channel.MarkWriteEOF] runs.
func (c *Channel) SetWriteEOFHook(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWriteEOF = fn
}

// Read reads from the underlying local descriptor. Only valid on a
// source channel.
func (c *Channel) Read(buf []byte) (int, error) {
	return c.src.Read(buf)
}

// Write synchronously writes data to the underlying local
// descriptor. Only valid on a sink channel. This is the Go
// equivalent of the spec's "flush": Write always drains the full
// slice or returns an error, never partially buffering.
func (c *Channel) Write(data []byte) (int, error) {
	return c.sink.Write(data)
}

// MarkReadEOF idempotently marks the source's read side as having hit
// EOF and fires the read-EOF hook exactly once.
func (c *Channel) MarkReadEOF() {
	c.mu.Lock()
	already := c.readEOF
	c.readEOF = true
	hook := c.onReadEOF
	c.mu.Unlock()
	if !already && hook != nil {
		hook()
	}
}

// MarkWriteEOF idempotently marks the sink's write side as having hit
// EOF and fires the write-EOF hook exactly once.
func (c *Channel) MarkWriteEOF() {
	c.mu.Lock()
	already := c.writeEOF
	c.writeEOF = true
	hook := c.onWriteEOF
	c.mu.Unlock()
	if !already && hook != nil {
		hook()
	}
}

// IsReadEOF reports whether the source side has reached EOF.
func (c *Channel) IsReadEOF() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readEOF
}

// IsWriteEOF reports whether the sink side has reached EOF.
func (c *Channel) IsWriteEOF() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeEOF
}

// Close closes the underlying local descriptor exactly once. It is
// safe to call from multiple goroutines and multiple times.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.direction == channelSource {
			err = c.src.Close()
		} else {
			err = c.sink.Close()
		}
	})
	return err
}
