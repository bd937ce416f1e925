//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/errclass (unix.go), generalized
// from socket errno names to this protocol's errno kinds.
//

package errclass

import "golang.org/x/sys/unix"

const (
	errENOENT       = unix.ENOENT
	errEISDIR       = unix.EISDIR
	errENAMETOOLONG = unix.ENAMETOOLONG
	errEINVAL       = unix.EINVAL
	errEACCES       = unix.EACCES
	errENOEXEC      = unix.ENOEXEC
	errEFAULT       = unix.EFAULT
	errEINTR        = unix.EINTR
	errETIMEDOUT    = unix.ETIMEDOUT
	errENOTDIR      = unix.ENOTDIR
	errEPERM        = unix.EPERM
)
