// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"fmt"
	"sync"

	"github.com/twopence-project/rexecd/errclass"
)

// TransactionKind distinguishes the three request kinds a [Connection]
// can multiplex.
type TransactionKind int

// Transaction kinds. See spec.md §3 "Transaction".
const (
	TransactionInject TransactionKind = iota
	TransactionExtract
	TransactionCommand
)

func (k TransactionKind) String() string {
	switch k {
	case TransactionInject:
		return "inject"
	case TransactionExtract:
		return "extract"
	case TransactionCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Transaction represents one in-flight request (run/inject/extract).
// It owns up to three [Channel]s keyed by channel id, an optional
// child process id, and a done flag. Marking a Transaction done removes
// it from its owning [Connection]'s live set immediately.
//
// A Transaction holds a non-owning pointer to its [Connection], used
// only to enqueue packets and to ask for its own removal; the
// Connection owns the Transaction, not vice versa.
type Transaction struct {
	id   uint16
	kind TransactionKind
	conn *Connection

	mu       sync.Mutex
	channels map[uint16]*Channel
	pid      int
	done     bool
	doneOnce sync.Once

	// recv handles packets addressed to this transaction (DATA/EOF on a
	// known channel id route through the Connection directly to the
	// matching Channel; everything else — INTR, transaction-kind-specific
	// control packets — is dispatched here).
	recv func(hdr PacketHeader, payload []byte)
}

// newTransaction constructs a Transaction owned by conn.
func newTransaction(conn *Connection, id uint16, kind TransactionKind) *Transaction {
	return &Transaction{
		id:       id,
		kind:     kind,
		conn:     conn,
		channels: make(map[uint16]*Channel),
	}
}

// ID returns the transaction id, unique within its Connection.
func (t *Transaction) ID() uint16 { return t.id }

// Kind returns the transaction's kind.
func (t *Transaction) Kind() TransactionKind { return t.kind }

// sendClient enqueues a complete, already-built packet on the owning
// Connection's outbound queue.
func (t *Transaction) sendClient(raw []byte) error {
	return t.conn.enqueueOutbound(raw)
}

// sendMajor sends the early MAJOR status reply (0 = accepted,
// non-zero = failure) that acknowledges transaction setup.
func (t *Transaction) sendMajor(status byte) error {
	raw, err := BuildPacket(PacketMajor, t.id, 0, []byte{status})
	if err != nil {
		return err
	}
	return t.sendClient(raw)
}

// sendMinor sends the terminal application-level exit status.
func (t *Transaction) sendMinor(status byte) error {
	raw, err := BuildPacket(PacketMinor, t.id, 0, []byte{status})
	if err != nil {
		return err
	}
	return t.sendClient(raw)
}

// sendTimeout signals that the command hit its alarm.
func (t *Transaction) sendTimeout() error {
	raw, err := BuildPacket(PacketTimeout, t.id, 0, nil)
	if err != nil {
		return err
	}
	return t.sendClient(raw)
}

// fail sends a failing MAJOR carrying the wire code for kind and marks
// the transaction done. Used for setup errors, before any channel has
// been attached.
func (t *Transaction) fail(kind string) error {
	err := t.sendMajor(errclass.WireCode(kind))
	t.markDone()
	return err
}

// fail2 sends a failing MAJOR(major) followed by MINOR(minor) and
// marks the transaction done. Used for subprocess-outcome failures
// (signal death, reap anomalies) that must report both a protocol
// code and an application-level code.
func (t *Transaction) fail2(major, minor byte) error {
	if err := t.sendMajor(major); err != nil {
		return err
	}
	err := t.sendMinor(minor)
	t.markDone()
	return err
}

// attachSink registers a sink channel under its channel id.
func (t *Transaction) attachSink(ch *Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels[ch.ID()] = ch
}

// attachSource registers a source channel under its channel id.
func (t *Transaction) attachSource(ch *Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels[ch.ID()] = ch
}

// findChannel looks up a channel by id.
func (t *Transaction) findChannel(cid uint16) (*Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[cid]
	return ch, ok
}

// allChannels returns a stable snapshot of all attached channels.
func (t *Transaction) allChannels() []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		out = append(out, ch)
	}
	return out
}

// closeSink closes the sink channel identified by cid. cid ==
// [ChannelFile] on a COMMAND transaction means "every sink channel".
func (t *Transaction) closeSink(cid uint16) {
	for _, ch := range t.allChannels() {
		if ch.IsSource() {
			continue
		}
		if cid == ChannelFile || ch.ID() == cid {
			ch.Close()
		}
	}
}

// closeSource closes the source channel identified by cid, same
// "all" convention as [Transaction.closeSink].
func (t *Transaction) closeSource(cid uint16) {
	for _, ch := range t.allChannels() {
		if !ch.IsSource() {
			continue
		}
		if cid == ChannelFile || ch.ID() == cid {
			ch.Close()
		}
	}
}

// allSourcesReadEOF reports whether every source channel attached to
// the transaction has reached read-EOF. A transaction with no source
// channels vacuously satisfies this.
func (t *Transaction) allSourcesReadEOF() bool {
	for _, ch := range t.allChannels() {
		if ch.IsSource() && !ch.IsReadEOF() {
			return false
		}
	}
	return true
}

// markDone marks the transaction done exactly once and asks the
// Connection to reap it. Safe to call more than once and from
// multiple goroutines.
func (t *Transaction) markDone() {
	t.doneOnce.Do(func() {
		t.mu.Lock()
		t.done = true
		t.mu.Unlock()
		t.conn.scheduleReap(t.id)
	})
}

// isDone reports whether the transaction has reached its terminal
// state.
func (t *Transaction) isDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// mergeEnv implements the per-request "merge with defaults" operation
// spec.md §3 describes for Command.Env: the union of base and overlay,
// one "KEY=VALUE" entry per key as [os/exec.Cmd] expects. A key in
// overlay shadows the same key in base, mirroring normal process
// environment semantics (last write wins). The order of the returned
// entries is not defined.
func mergeEnv(base map[string]string, overlay map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
