// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import "github.com/twopence-project/rexecd/errclass"

// ErrClassifier classifies errors into categorical strings for
// structured logging.
//
// Implementations map errors to short, descriptive labels (e.g.,
// "ENOENT", "EISDIR") that facilitate systematic analysis of daemon
// logs without parsing error message text.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	cfg.ErrClassifier = ErrClassifierFunc(errclass.Classify)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier delegates to package errclass.
var DefaultErrClassifier = ErrClassifierFunc(errclass.Classify)
