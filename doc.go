// SPDX-License-Identifier: GPL-3.0-or-later

// Package rexecd implements the request-servicing core of a remote
// test-execution agent: a host-local daemon that accepts connections
// over an opaque byte transport and services three kinds of requests
// from a remote test driver — run a shell command as a given local
// user (streaming stdin/stdout/stderr and exit status), push a file
// onto the host, and pull a file off the host.
//
// # Core Abstraction
//
// Bytes arrive on a transport.Stream owned by a [Connection], which
// frames the stream into packets (see [PacketHeader]) and
// demultiplexes them onto [Transaction] values, each of which owns up
// to three [Channel] values — directional byte conduits bound to a
// local file descriptor. Each Connection reaps its finished
// Transactions and relays Channel data in both directions. A
// [ConnectionPool] accepts streams and runs each Connection on its own
// goroutine.
//
// # Transactions
//
// A Transaction is one request/response conversation: INJECT (push a
// file), EXTRACT (pull a file), or COMMAND (run a subprocess). Each
// type installs its own receive/send hooks but shares one lifecycle:
// accepted, serviced, and exactly one terminal packet (a failing
// MAJOR, a MINOR exit status, or TIMEOUT) sent before removal.
//
// # Subprocess launch and file access
//
// [runCommandAs] and [openFileAs] are the two privilege-sensitive
// operations: the former resolves a user, allocates a pty or pipes,
// and execs a shell under the target credentials set on the child
// process; the latter resolves a user, joins a path against their home
// directory, and opens a file under a temporarily dropped privilege
// scope. That scope is a [SavedCredentials], which aborts the process
// rather than continue after a failed restoration.
//
// # Observability
//
// All components support structured logging via [SLogger] (compatible
// with [log/slog]). By default, logging is disabled; set the Logger
// field on [*Config] to a real [*slog.Logger] to enable it. Error
// classification is configurable via [ErrClassifier]; by default,
// classification is delegated to the internal errclass package, which
// turns errno-shaped errors into the protocol's status codes.
//
// [ObserveConnFunc] emits structured log events for an accepted
// [net.Conn], as in the composable-primitives library this package's
// ambient stack is descended from: a closeStart/closeDone pair at
// [slog.LevelInfo], and per-I/O events (readStart/readDone,
// writeStart/writeDone, deadline changes) at [slog.LevelDebug]. Other
// components log single events (setup failures, unexpected packets,
// QUIT) rather than Start/Done pairs.
//
// Use [NewSpanID] to generate a unique, time-ordered identifier
// (UUIDv7) for each accepted connection, then attach it to the logger
// with [*slog.Logger.With] so every log line for that connection and
// its transactions can be correlated.
//
// # Design Boundaries
//
// This package provides the request-servicing core only. The three
// transport back-ends (package transport), the command-line front
// ends, audit/log sinks beyond [SLogger], and the system user database
// beyond the narrow lookup performed through [UserLookup] are external
// collaborators, not part of this package.
package rexecd
