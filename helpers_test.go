// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// nopStream is a [Stream] that reads straight to EOF and discards every
// write; tests that only want a Transaction's or Connection's own
// bookkeeping (not real byte transport) construct a Connection around
// one of these instead of a real socket.
type nopStream struct{}

func (nopStream) Read(p []byte) (int, error)  { return 0, io.EOF }
func (nopStream) Write(p []byte) (int, error) { return len(p), nil }
func (nopStream) Close() error                { return nil }

// newTestConnection builds a request-servicing Connection around a
// [nopStream], with no owning pool (exercising the nil-safe path
// [ConnectionPool.remove] documents).
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	return newConnection(1, nopStream{}, NewConfig(), nil)
}
