//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/errclass (windows.go), generalized
// from socket errno names to this protocol's errno kinds. This daemon
// targets unix credential switching (setuid/setgid/pty) and is not
// deployed on Windows; this file exists only so the module still
// builds there, matching the teacher's own cross-platform posture.
//

package errclass

import "golang.org/x/sys/windows"

const (
	errENOENT       = windows.ERROR_FILE_NOT_FOUND
	errEISDIR       = windows.ERROR_DIRECTORY_NOT_SUPPORTED
	errENAMETOOLONG = windows.ERROR_BUFFER_OVERFLOW
	errEINVAL       = windows.ERROR_INVALID_PARAMETER
	errEACCES       = windows.ERROR_ACCESS_DENIED
	errENOEXEC      = windows.ERROR_BAD_FORMAT
	errEFAULT       = windows.ERROR_INVALID_ADDRESS
	errEINTR        = windows.WSAEINTR
	errETIMEDOUT    = windows.WSAETIMEDOUT
	errENOTDIR      = windows.ERROR_DIRECTORY
	errEPERM        = windows.ERROR_PRIVILEGE_NOT_HELD
)
