// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twopence-project/rexecd/errclass"
)

func TestStartInjectWritesFileAndRepliesMajorThenMinor(t *testing.T) {
	origLookup := DefaultUserLookup
	dir := t.TempDir()
	DefaultUserLookup = rootLikeLookup(dir)
	defer func() { DefaultUserLookup = origLookup }()

	conn := newTestConnection(t)
	tx := conn.newTransactionFor(TransactionInject)

	startInject(conn, tx, InjectRequest{User: "root", Path: "payload.bin", Mode: 0640})

	major := <-conn.outboundCh
	hdr, err := ParseHeader(major)
	require.NoError(t, err)
	assert.Equal(t, PacketMajor, hdr.Type)
	assert.Equal(t, byte(0), major[headerSize])

	ch, ok := tx.findChannel(ChannelFile)
	require.True(t, ok)
	_, err = ch.Write([]byte("contents"))
	require.NoError(t, err)
	ch.MarkWriteEOF()

	minor := <-conn.outboundCh
	mhdr, err := ParseHeader(minor)
	require.NoError(t, err)
	assert.Equal(t, PacketMinor, mhdr.Type)
	assert.Equal(t, byte(0), minor[headerSize])
	assert.True(t, tx.isDone())

	got, err := os.ReadFile(filepath.Join(dir, "payload.bin"))
	require.NoError(t, err)
	assert.Equal(t, "contents", string(got))

	info, err := os.Stat(filepath.Join(dir, "payload.bin"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestStartInjectUnknownUserFails(t *testing.T) {
	origLookup := DefaultUserLookup
	DefaultUserLookup = rootLikeLookup(t.TempDir())
	defer func() { DefaultUserLookup = origLookup }()

	conn := newTestConnection(t)
	tx := conn.newTransactionFor(TransactionInject)

	startInject(conn, tx, InjectRequest{User: "nosuchuser", Path: "x", Mode: 0644})

	raw := <-conn.outboundCh
	hdr, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, PacketMajor, hdr.Type)
	assert.Equal(t, errclass.WireCode(errclass.ENOENT), raw[headerSize])
	assert.True(t, tx.isDone())
}
