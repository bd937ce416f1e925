// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import "os"

// startInject implements the INJECT transaction-starting hook (spec.md
// §4.7): open the target path write-truncate as the request's user,
// attach a sink on [ChannelFile], and reply MAJOR 0 so the client
// begins streaming. A write-EOF hook flushes the file, replies MINOR 0,
// and marks the transaction done once the client's DATA/EOF arrives.
func startInject(conn *Connection, tx *Transaction, req InjectRequest) {
	f, err := openFileAs(DefaultUserLookup, conn.logger, req.User, req.Path,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, req.Mode)
	if err != nil {
		kind := classify(conn.cfg.ErrClassifier, err)
		conn.logger.Warn("injectOpenFailed", "clientID", conn.clientID, "user", req.User, "path", req.Path, "err", err)
		tx.fail(kind)
		return
	}

	ch := NewSinkChannel(tx.id, ChannelFile, "file", f)
	ch.SetWriteEOFHook(func() {
		syncErr := f.Sync()
		if syncErr != nil {
			conn.logger.Warn("injectSyncFailed", "clientID", conn.clientID, "path", req.Path, "err", syncErr)
		}
		ch.Close()
		tx.sendMinor(0)
		tx.markDone()
	})
	tx.attachSink(ch)

	if err := tx.sendMajor(0); err != nil {
		conn.logger.Warn("injectReplyFailed", "clientID", conn.clientID, "err", err)
	}
}
