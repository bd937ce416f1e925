// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/twopence-project/rexecd/errclass"
)

// startCommand implements the COMMAND transaction-starting hook
// (spec.md §4.7): launch the subprocess, attach its stdin/stdout/stderr
// as Channels, reply MAJOR 0, and drive the command through the state
// machine spec.md §4.8 describes (new -> running -> killing/completing
// -> done) via the recv hook (INTR) and a reaper goroutine that takes
// the place of the original's SIGCHLD-driven poll.
func startCommand(conn *Connection, tx *Transaction, req CommandRequest) {
	proc, err := runCommandAs(DefaultUserLookup, conn.cfg, req)
	if err != nil {
		kind := classify(conn.cfg.ErrClassifier, err)
		conn.logger.Warn("commandLaunchFailed", "clientID", conn.clientID, "user", req.User, "err", err)
		tx.fail(kind)
		return
	}
	tx.pid = proc.pid

	stdinCh := NewSinkChannel(tx.id, ChannelStdin, "stdin", proc.stdinW)
	tx.attachSink(stdinCh)

	stdoutCh := NewSourceChannel(tx.id, ChannelStdout, "stdout", proc.stdoutR)
	tx.attachSource(stdoutCh)

	var stderrCh *Channel
	if !proc.ptyMerged {
		stderrCh = NewSourceChannel(tx.id, ChannelStderr, "stderr", proc.stderrR)
		tx.attachSource(stderrCh)
	}

	var timedOut atomic.Bool
	timeoutSeconds := req.Timeout
	if timeoutSeconds == 0 {
		timeoutSeconds = uint32(conn.cfg.DefaultCommandTimeout)
	}
	timer := time.AfterFunc(time.Duration(timeoutSeconds)*time.Second, func() {
		timedOut.Store(true)
		if killErr := killProcessGroup(proc.pid, unix.SIGKILL); killErr != nil {
			conn.logger.Warn("timeoutKillFailed", "pid", proc.pid, "err", killErr)
		}
	})

	// recv handles only INTR (spec.md §4.8 "recv: only INTR is
	// meaningful"); everything else addressed to this transaction is
	// logged and ignored.
	tx.recv = func(hdr PacketHeader, payload []byte) {
		if hdr.Type != PacketIntr {
			conn.logger.Warn("unexpectedCommandPacket", "type", hdr.Type.String(), "tid", tx.id)
			return
		}
		if killErr := killProcessGroup(proc.pid, unix.SIGKILL); killErr != nil {
			conn.logger.Warn("intrKillFailed", "pid", proc.pid, "err", killErr)
		}
		tx.closeSink(ChannelFile)
		tx.closeSource(ChannelFile)
	}

	// MAJOR 0 must reach the wire before any DATA/EOF for this
	// transaction (spec.md §4.7's reply-then-stream order), so it is
	// sent here: after channels are attached but before the synthetic
	// stderr EOF and the pump/reaper goroutines that can otherwise race
	// ahead of it.
	if err := tx.sendMajor(0); err != nil {
		conn.logger.Warn("commandReplyFailed", "clientID", conn.clientID, "err", err)
		timer.Stop()
		if killErr := killProcessGroup(proc.pid, unix.SIGKILL); killErr != nil {
			conn.logger.Warn("commandAbortKillFailed", "pid", proc.pid, "err", killErr)
		}
		return
	}

	if proc.ptyMerged {
		// A pty merges stdout and stderr into one descriptor; per
		// spec.md §4.7 the peer still expects a stderr channel, so it
		// gets an immediate EOF instead of a real source.
		if raw, buildErr := BuildPacket(PacketEOF, tx.id, ChannelStderr, nil); buildErr == nil {
			tx.sendClient(raw)
		}
	}

	var streamsDone sync.WaitGroup
	streamsDone.Add(1)
	conn.wg.Add(1)
	go func() {
		defer conn.wg.Done()
		defer streamsDone.Done()
		conn.pumpSource(tx, stdoutCh)
	}()
	if stderrCh != nil {
		streamsDone.Add(1)
		conn.wg.Add(1)
		go func() {
			defer conn.wg.Done()
			defer streamsDone.Done()
			conn.pumpSource(tx, stderrCh)
		}()
	}

	conn.wg.Add(1)
	go func() {
		defer conn.wg.Done()
		streamsDone.Wait()
		waitErr := proc.cmd.Wait()
		timer.Stop()
		tx.pid = 0
		stdinCh.Close()
		finishCommand(tx, waitErr, &timedOut)
	}()
}

// finishCommand translates a reaped child's wait status into the
// transaction's terminal packet (spec.md §4.8 step 3): normal exit ->
// MINOR exit_code; killed by the timeout timer -> TIMEOUT; killed by
// any other signal -> fail2(EFAULT, signal); anything else -> fail2(EFAULT, 2).
func finishCommand(tx *Transaction, waitErr error, timedOut *atomic.Bool) {
	defer tx.markDone()

	if waitErr == nil {
		tx.sendMinor(0)
		return
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Exited() {
				tx.sendMinor(byte(ws.ExitStatus()))
				return
			}
			if ws.Signaled() {
				if timedOut.Load() {
					tx.sendTimeout()
					return
				}
				tx.fail2(errclass.WireCode(errclass.EFAULT), byte(ws.Signal()))
				return
			}
		}
	}
	tx.fail2(errclass.WireCode(errclass.EFAULT), 2)
}
