// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDispatchTableCoversEveryTopLevelPacket(t *testing.T) {
	table := DefaultDispatchTable()
	for _, typ := range []PacketType{PacketHello, PacketQuit, PacketInject, PacketExtract, PacketCommand} {
		_, ok := table[typ]
		assert.Truef(t, ok, "no handler registered for %s", typ)
	}
	// DATA/EOF/INTR/MAJOR/MINOR/TIMEOUT never arrive with tid==0 in
	// practice and have no top-level handler.
	_, ok := table[PacketData]
	assert.False(t, ok)
}

func TestHandleHelloRepliesWithClientID(t *testing.T) {
	conn := newConnection(1234, nopStream{}, NewConfig(), nil)
	handleHello(conn, PacketHeader{Type: PacketHello}, nil)

	raw := <-conn.outboundCh
	hdr, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, PacketHello, hdr.Type)
	assert.Equal(t, uint64(1234), binary.BigEndian.Uint64(raw[headerSize:]))
}

func TestHandleQuitCallsQuitProcess(t *testing.T) {
	called := false
	orig := quitProcess
	quitProcess = func() { called = true }
	defer func() { quitProcess = orig }()

	conn := newConnection(1, nopStream{}, NewConfig(), nil)
	handleQuit(conn, PacketHeader{Type: PacketQuit}, nil)

	assert.True(t, called)
}

func TestHandleInjectMalformedPayloadIsIgnored(t *testing.T) {
	conn := newConnection(1, nopStream{}, NewConfig(), nil)
	before := len(conn.transactions)

	handleInject(conn, PacketHeader{Type: PacketInject}, []byte{0xff}) // too short to dissect

	assert.Len(t, conn.transactions, before)
}

func TestHandleExtractMalformedPayloadIsIgnored(t *testing.T) {
	conn := newConnection(1, nopStream{}, NewConfig(), nil)
	before := len(conn.transactions)

	handleExtract(conn, PacketHeader{Type: PacketExtract}, []byte{0xff})

	assert.Len(t, conn.transactions, before)
}

func TestHandleCommandMalformedPayloadIsIgnored(t *testing.T) {
	conn := newConnection(1, nopStream{}, NewConfig(), nil)
	before := len(conn.transactions)

	handleCommand(conn, PacketHeader{Type: PacketCommand}, []byte{0xff})

	assert.Len(t, conn.transactions, before)
}

func TestHandleCommandEmptyCommandIsIgnored(t *testing.T) {
	conn := newConnection(1, nopStream{}, NewConfig(), nil)
	before := len(conn.transactions)

	payload, err := BuildCommand(CommandRequest{User: "root", Command: ""})
	require.NoError(t, err)

	handleCommand(conn, PacketHeader{Type: PacketCommand}, payload)

	assert.Len(t, conn.transactions, before)
}

func TestHandleInjectStartsATransaction(t *testing.T) {
	origLookup := DefaultUserLookup
	DefaultUserLookup = rootLikeLookup(t.TempDir())
	defer func() { DefaultUserLookup = origLookup }()

	conn := newConnection(1, nopStream{}, NewConfig(), nil)
	payload, err := BuildInject(InjectRequest{User: "root", Path: "uploaded.txt", Mode: 0644})
	require.NoError(t, err)

	handleInject(conn, PacketHeader{Type: PacketInject}, payload)

	assert.Len(t, conn.transactions, 1)
	raw := <-conn.outboundCh
	hdr, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, PacketMajor, hdr.Type)
	assert.Equal(t, byte(0), raw[headerSize])
}
