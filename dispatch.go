// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"encoding/binary"
	"os"
)

// DefaultDispatchTable returns the connection-level semantics table
// (spec.md §3 "Connection": "semantics table, the set of hooks the
// dispatcher uses") that routes every tid==0 packet a request-servicing
// [Connection] receives. HELLO/QUIT are handled here directly; the three
// transaction-starting types hand off to command_hooks.go,
// inject_hooks.go and extract_hooks.go, which own the rest of each
// transaction's lifecycle.
func DefaultDispatchTable() map[PacketType]topLevelHandler {
	return map[PacketType]topLevelHandler{
		PacketHello:   handleHello,
		PacketQuit:    handleQuit,
		PacketInject:  handleInject,
		PacketExtract: handleExtract,
		PacketCommand: handleCommand,
	}
}

// quitProcess terminates the server in response to a QUIT packet. It is
// a package variable so tests can substitute a non-exiting stand-in,
// the same pattern [abortProcess] uses.
var quitProcess = func() { os.Exit(0) }

// handleHello replies with the client's assigned id, as an 8-byte
// big-endian payload. spec.md §3 calls this optional; clients that
// never send HELLO never learn their client id, which is used only for
// logging.
func handleHello(conn *Connection, hdr PacketHeader, payload []byte) {
	var body [8]byte
	binary.BigEndian.PutUint64(body[:], conn.clientID)
	raw, err := BuildPacket(PacketHello, 0, 0, body[:])
	if err != nil {
		return
	}
	_ = conn.enqueueOutbound(raw)
}

// handleQuit terminates the server process (spec.md §4.7 "QUIT:
// terminate the server process").
func handleQuit(conn *Connection, hdr PacketHeader, payload []byte) {
	conn.logger.Info("quitReceived", "clientID", conn.clientID, "spanID", conn.spanID)
	quitProcess()
}

// handleInject starts an INJECT transaction: dissect the request, then
// delegate setup to startInject.
func handleInject(conn *Connection, hdr PacketHeader, payload []byte) {
	req, err := DissectInject(payload)
	if err != nil {
		conn.logger.Warn("malformedInject", "clientID", conn.clientID, "err", err)
		return
	}
	tx := conn.newTransactionFor(TransactionInject)
	startInject(conn, tx, req)
}

// handleExtract starts an EXTRACT transaction: dissect the request,
// then delegate setup to startExtract.
func handleExtract(conn *Connection, hdr PacketHeader, payload []byte) {
	req, err := DissectExtract(payload)
	if err != nil {
		conn.logger.Warn("malformedExtract", "clientID", conn.clientID, "err", err)
		return
	}
	tx := conn.newTransactionFor(TransactionExtract)
	startExtract(conn, tx, req)
}

// handleCommand starts a COMMAND transaction: dissect the request, then
// delegate setup to startCommand. An empty command string is treated
// the same as a malformed packet (spec.md's original C server rejects
// it with "bad_packet" rather than running `/bin/sh -c ""`).
func handleCommand(conn *Connection, hdr PacketHeader, payload []byte) {
	req, err := DissectCommand(payload)
	if err != nil {
		conn.logger.Warn("malformedCommand", "clientID", conn.clientID, "err", err)
		return
	}
	if req.Command == "" {
		conn.logger.Warn("emptyCommand", "clientID", conn.clientID)
		return
	}
	tx := conn.newTransactionFor(TransactionCommand)
	startCommand(conn, tx, req)
}
