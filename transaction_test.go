// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twopence-project/rexecd/errclass"
)

func TestTransactionKindString(t *testing.T) {
	assert.Equal(t, "inject", TransactionInject.String())
	assert.Equal(t, "extract", TransactionExtract.String())
	assert.Equal(t, "command", TransactionCommand.String())
	assert.Equal(t, "unknown", TransactionKind(99).String())
}

func TestTransactionSendMajorMinorTimeout(t *testing.T) {
	conn := newTestConnection(t)
	tx := conn.newTransactionFor(TransactionCommand)

	require.NoError(t, tx.sendMajor(0))
	raw := <-conn.outboundCh
	hdr, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, PacketMajor, hdr.Type)
	assert.Equal(t, tx.id, hdr.TransactionID)
	assert.Equal(t, byte(0), raw[headerSize])

	require.NoError(t, tx.sendMinor(7))
	raw = <-conn.outboundCh
	hdr, err = ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, PacketMinor, hdr.Type)
	assert.Equal(t, byte(7), raw[headerSize])

	require.NoError(t, tx.sendTimeout())
	raw = <-conn.outboundCh
	hdr, err = ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, PacketTimeout, hdr.Type)
	assert.Equal(t, uint16(0), hdr.Length)
}

func TestTransactionFailSendsMajorAndMarksDone(t *testing.T) {
	conn := newTestConnection(t)
	tx := conn.newTransactionFor(TransactionInject)

	require.NoError(t, tx.fail(errclass.ENOENT))
	raw := <-conn.outboundCh
	hdr, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, PacketMajor, hdr.Type)
	assert.Equal(t, errclass.WireCode(errclass.ENOENT), raw[headerSize])
	assert.True(t, tx.isDone())
}

func TestTransactionFail2SendsMajorThenMinor(t *testing.T) {
	conn := newTestConnection(t)
	tx := conn.newTransactionFor(TransactionCommand)

	require.NoError(t, tx.fail2(errclass.WireCode(errclass.EFAULT), 9))
	major := <-conn.outboundCh
	minor := <-conn.outboundCh

	mhdr, err := ParseHeader(major)
	require.NoError(t, err)
	assert.Equal(t, PacketMajor, mhdr.Type)

	nhdr, err := ParseHeader(minor)
	require.NoError(t, err)
	assert.Equal(t, PacketMinor, nhdr.Type)
	assert.Equal(t, byte(9), minor[headerSize])
	assert.True(t, tx.isDone())
}

func TestTransactionMarkDoneIdempotentAndReaps(t *testing.T) {
	conn := newTestConnection(t)
	tx := conn.newTransactionFor(TransactionExtract)

	_, ok := conn.findTransaction(tx.id)
	require.True(t, ok)

	tx.markDone()
	tx.markDone() // idempotent: a second call must not re-reap or panic

	assert.True(t, tx.isDone())
	_, ok = conn.findTransaction(tx.id)
	assert.False(t, ok)
}

func TestTransactionChannelAttachAndFind(t *testing.T) {
	conn := newTestConnection(t)
	tx := conn.newTransactionFor(TransactionCommand)

	sink := NewSinkChannel(tx.id, ChannelStdin, "stdin", &fakeWriteCloser{Writer: &byteWriter{buf: new([]byte)}})
	tx.attachSink(sink)
	source := NewSourceChannel(tx.id, ChannelStdout, "stdout", &fakeReadCloser{Reader: &byteReader{}})
	tx.attachSource(source)

	found, ok := tx.findChannel(ChannelStdin)
	require.True(t, ok)
	assert.Same(t, sink, found)

	assert.Len(t, tx.allChannels(), 2)
}

func TestTransactionCloseSinkAndSourceAllConvention(t *testing.T) {
	conn := newTestConnection(t)
	tx := conn.newTransactionFor(TransactionCommand)

	wc := &fakeWriteCloser{Writer: &byteWriter{buf: new([]byte)}}
	tx.attachSink(NewSinkChannel(tx.id, ChannelStdin, "stdin", wc))

	rc := &fakeReadCloser{Reader: &byteReader{}}
	tx.attachSource(NewSourceChannel(tx.id, ChannelStdout, "stdout", rc))

	tx.closeSink(ChannelFile) // ChannelFile means "every sink channel"
	assert.True(t, wc.closed)
	assert.False(t, rc.closed)

	tx.closeSource(ChannelFile)
	assert.True(t, rc.closed)
}

func TestTransactionAllSourcesReadEOF(t *testing.T) {
	conn := newTestConnection(t)
	tx := conn.newTransactionFor(TransactionCommand)

	assert.True(t, tx.allSourcesReadEOF(), "no source channels vacuously satisfies this")

	source := NewSourceChannel(tx.id, ChannelStdout, "stdout", &fakeReadCloser{Reader: &byteReader{}})
	tx.attachSource(source)
	assert.False(t, tx.allSourcesReadEOF())

	source.MarkReadEOF()
	assert.True(t, tx.allSourcesReadEOF())
}

func TestMergeEnv(t *testing.T) {
	base := map[string]string{"PATH": "/usr/bin", "LANG": "C"}
	overlay := map[string]string{"PATH": "/custom/bin", "EXTRA": "1"}

	got := mergeEnv(base, overlay)

	m := map[string]string{}
	for _, kv := range got {
		parts := strings.SplitN(kv, "=", 2)
		m[parts[0]] = parts[1]
	}
	assert.Equal(t, "/custom/bin", m["PATH"], "overlay shadows base")
	assert.Equal(t, "C", m["LANG"])
	assert.Equal(t, "1", m["EXTRA"])
}
