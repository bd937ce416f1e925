// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/errclass, generalized from
// socket errno names ("ECONNRESET", "ETIMEDOUT", ...) to this
// protocol's errno kinds ("ENOENT", "EISDIR", "ENAMETOOLONG", ...).
//

// Package errclass classifies errors into short categorical strings
// for structured logging, and recognizes the subset of errno kinds
// this protocol cares about (unknown user, non-regular file, path too
// long, ...).
package errclass

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
)

// Known error classes. These are the same strings regardless of
// platform; only the mapping from a concrete error to one of them is
// platform-specific (see unix.go / windows.go).
const (
	ENOENT       = "ENOENT"
	EISDIR       = "EISDIR"
	ENOTDIR      = "ENOTDIR"
	ENAMETOOLONG = "ENAMETOOLONG"
	EINVAL       = "EINVAL"
	EACCES       = "EACCES"
	EPERM        = "EPERM"
	ENOEXEC      = "ENOEXEC"
	EFAULT       = "EFAULT"
	EINTR        = "EINTR"
	ETIMEDOUT    = "ETIMEDOUT"
	EGENERIC     = "EGENERIC"
)

// Classify maps err to one of the constants above. It returns the
// empty string for a nil error, and [EGENERIC] for any error it does
// not recognize.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ETIMEDOUT
	}
	if errors.Is(err, fs.ErrNotExist) {
		return ENOENT
	}
	if errors.Is(err, fs.ErrPermission) {
		return EACCES
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if class, ok := classifyErrno(errno); ok {
			return class
		}
	}
	return EGENERIC
}

// WireCode maps a classified error kind to the small integer status
// code sent over the wire as a failing MAJOR/MINOR value. These
// mirror the numeric errno values on Linux, since the wire protocol
// predates this reimplementation and interoperating clients expect
// POSIX errno numbers in the status field, independent of the local
// platform's own errno numbering (see unix.go / windows.go, which map
// the other direction, host errno to class).
func WireCode(kind string) byte {
	switch kind {
	case EPERM:
		return 1
	case ENOENT:
		return 2
	case EINTR:
		return 4
	case ENOEXEC:
		return 8
	case EACCES:
		return 13
	case EFAULT:
		return 14
	case ENOTDIR:
		return 20
	case EISDIR:
		return 21
	case EINVAL:
		return 22
	case ENAMETOOLONG:
		return 36
	case ETIMEDOUT:
		return 110
	default:
		return 5 // EIO: generic I/O error, matches the original's catch-all.
	}
}

func classifyErrno(errno syscall.Errno) (string, bool) {
	switch errno {
	case errENOENT:
		return ENOENT, true
	case errEISDIR:
		return EISDIR, true
	case errENOTDIR:
		return ENOTDIR, true
	case errENAMETOOLONG:
		return ENAMETOOLONG, true
	case errEINVAL:
		return EINVAL, true
	case errEACCES:
		return EACCES, true
	case errEPERM:
		return EPERM, true
	case errENOEXEC:
		return ENOEXEC, true
	case errEFAULT:
		return EFAULT, true
	case errEINTR:
		return EINTR, true
	case errETIMEDOUT:
		return ETIMEDOUT, true
	default:
		return "", false
	}
}
