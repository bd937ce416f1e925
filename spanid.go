// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 correlation id for one accepted Connection.
//
// Every log line for that Connection and for the Transactions it
// services should carry this id (via [SLogger]/[*slog.Logger.With]),
// so an operator can follow one peer's conversation across the
// dispatcher, the launcher, and the pool. It is never sent over the
// wire; the wire-level identity is the small monotonic client id
// assigned by the [ConnectionPool].
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
