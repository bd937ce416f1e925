// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/twopence-project/rexecd/errclass"
)

// maxPathLength mirrors the system's PATH_MAX; a joined path at or
// beyond it is rejected with [errclass.ENAMETOOLONG] rather than
// silently truncated.
const maxPathLength = 4096

// abortProcess terminates the process immediately. Restoring saved
// credentials is the one failure mode spec.md treats as fatal:
// continuing with unexpected credentials is worse than crashing. It
// is a package variable so tests can substitute a non-exiting stand-in
// and assert it was called, instead of actually killing the test
// binary.
var abortProcess = func(logger SLogger, reason string, err error) {
	logger.Error("credentialRestoreFailed", "reason", reason, "err", err)
	os.Exit(1)
}

// credentialSwitchMu serializes every temporary privilege drop scope
// process-wide.
//
// On Linux, golang.org/x/sys/unix's Setresuid/Setresgid/Setgroups
// apply to every OS thread in the process (the Go runtime does this
// automatically since Go 1.16, closing a long-standing setuid/setgid
// race). That means there is no way to drop privileges on only the
// goroutine currently serving one request: an effective uid/gid
// change is visible process-wide for as long as the scope is held.
// Serializing scopes with this mutex makes that visibility safe
// instead of racy, at the cost of one file-open-as-another-user
// happening at a time. [openFileAs] is the only caller; it is never
// on a hot path shared across many concurrent transactions.
var credentialSwitchMu sync.Mutex

// SavedCredentials is a scoped bundle of {uid, gid} captured before a
// temporary privilege drop, to be restored on every exit path from
// the scope.
type SavedCredentials struct {
	uid int
	gid int
}

// dropPrivilegesTemporarily saves the caller's current effective
// uid/gid, then assumes target's uid/gid/supplementary groups. The
// caller must call [SavedCredentials.Restore] on every exit path,
// holding [credentialSwitchMu] for the entire scope.
func dropPrivilegesTemporarily(target ResolvedUser) (*SavedCredentials, error) {
	saved := &SavedCredentials{uid: unix.Geteuid(), gid: unix.Getegid()}

	if err := unix.Setgroups(target.Groups); err != nil {
		return nil, fmt.Errorf("rexecd: setgroups: %w", err)
	}
	if err := unix.Setegid(target.GID); err != nil {
		_ = unix.Setgroups(nil)
		return nil, fmt.Errorf("rexecd: setegid: %w", err)
	}
	if err := unix.Seteuid(target.UID); err != nil {
		_ = unix.Setegid(saved.gid)
		_ = unix.Setgroups(nil)
		return nil, fmt.Errorf("rexecd: seteuid: %w", err)
	}
	return saved, nil
}

// Restore restores the uid/gid captured by [dropPrivilegesTemporarily].
// Failure to restore is fatal: it calls [abortProcess] rather than
// return an error, per spec.md §7 ("privilege restoration failure
// aborts the process").
func (s *SavedCredentials) Restore(logger SLogger) {
	if err := unix.Seteuid(s.uid); err != nil {
		abortProcess(logger, "seteuid", err)
		return
	}
	if err := unix.Setegid(s.gid); err != nil {
		abortProcess(logger, "setegid", err)
		return
	}
}

// openFileAs implements the file-opener component (spec.md §4.6):
// resolve user, resolve path relative to home, temporarily drop
// privileges unless already root, open with the requested flags,
// validate the result is a regular file, and fchmod if opened for
// writing.
func openFileAs(lookup UserLookup, logger SLogger, username, path string, flags int, mode uint32) (*os.File, error) {
	u, err := lookup.Resolve(username)
	if err != nil {
		return nil, err
	}

	resolved := path
	if !filepath.IsAbs(path) {
		resolved = filepath.Join(u.HomeDir, path)
	}
	if len(resolved) >= maxPathLength {
		return nil, newClassifiedError(errclass.ENAMETOOLONG,
			fmt.Errorf("rexecd: path %q exceeds maximum length", path))
	}

	logger.Debug("fileOpen", "user", username, "path", resolved, "flags", fmt.Sprintf("0%o", flags))

	var f *os.File
	if u.UID == 0 {
		f, err = os.OpenFile(resolved, flags, os.FileMode(mode))
	} else {
		credentialSwitchMu.Lock()
		var saved *SavedCredentials
		saved, err = dropPrivilegesTemporarily(u)
		if err == nil {
			f, err = os.OpenFile(resolved, flags, os.FileMode(mode))
			saved.Restore(logger)
		}
		credentialSwitchMu.Unlock()
	}
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, newClassifiedError(errclass.EISDIR,
			fmt.Errorf("rexecd: %q is not a regular file", resolved))
	}

	if flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		if err := f.Chmod(os.FileMode(mode)); err != nil {
			f.Close()
			return nil, err
		}
	}

	return f, nil
}
