// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import "os"

// startExtract implements the EXTRACT transaction-starting hook
// (spec.md §4.7): open the target path read-only as the request's
// user, attach a source on [ChannelFile], and reply MAJOR 0. The
// source is drained by [Connection.pumpSource] on its own goroutine,
// which enqueues the channel's EOF packet before firing the read-EOF
// hook below; the hook then replies MINOR 0 and marks the transaction
// done, so EOF always reaches the wire ahead of the terminal MINOR.
func startExtract(conn *Connection, tx *Transaction, req ExtractRequest) {
	f, err := openFileAs(DefaultUserLookup, conn.logger, req.User, req.Path, os.O_RDONLY, 0)
	if err != nil {
		kind := classify(conn.cfg.ErrClassifier, err)
		conn.logger.Warn("extractOpenFailed", "clientID", conn.clientID, "user", req.User, "path", req.Path, "err", err)
		tx.fail(kind)
		return
	}

	ch := NewSourceChannel(tx.id, ChannelFile, "file", f)
	ch.SetReadEOFHook(func() {
		tx.sendMinor(0)
		tx.markDone()
	})
	tx.attachSource(ch)

	if err := tx.sendMajor(0); err != nil {
		conn.logger.Warn("extractReplyFailed", "clientID", conn.clientID, "err", err)
		return
	}

	conn.wg.Add(1)
	go func() {
		defer conn.wg.Done()
		conn.pumpSource(tx, ch)
	}()
}
