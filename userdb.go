// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"errors"
	"os/user"
	"strconv"

	"github.com/twopence-project/rexecd/errclass"
)

// ResolvedUser is what the core needs from the system user database:
// primary uid/gid, home directory, and supplementary groups. See
// [UserLookup].
type ResolvedUser struct {
	Name    string
	UID     int
	GID     int
	HomeDir string
	Groups  []int
}

// UserLookup is the narrow collaborator spec.md §6 describes: "the
// system user database, consulted through a narrow lookup interface."
// [os/user] satisfies this out of the box; the interface exists so
// tests can substitute a fixed user table without touching the real
// system database (see userdb_test.go's fakeUserLookup).
type UserLookup interface {
	Resolve(name string) (ResolvedUser, error)
}

// osUserLookup implements [UserLookup] on top of [os/user].
type osUserLookup struct{}

// DefaultUserLookup resolves users against the real system database.
var DefaultUserLookup UserLookup = osUserLookup{}

// Resolve implements [UserLookup].
func (osUserLookup) Resolve(name string) (ResolvedUser, error) {
	u, err := user.Lookup(name)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return ResolvedUser{}, newClassifiedError(errclass.ENOENT, err)
		}
		return ResolvedUser{}, err
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return ResolvedUser{}, err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return ResolvedUser{}, err
	}

	groupIDs, err := u.GroupIds()
	if err != nil {
		return ResolvedUser{}, err
	}
	groups := make([]int, 0, len(groupIDs))
	for _, g := range groupIDs {
		n, err := strconv.Atoi(g)
		if err != nil {
			continue
		}
		groups = append(groups, n)
	}

	return ResolvedUser{
		Name:    u.Username,
		UID:     uid,
		GID:     gid,
		HomeDir: u.HomeDir,
		Groups:  groups,
	}, nil
}

// classifiedError pairs a Go error with a pre-computed errclass kind,
// so callers that already know the kind (e.g. "this is definitely
// ENOENT, the user lookup said so") don't have to round-trip it
// through [errclass.Classify]'s heuristics.
type classifiedError struct {
	kind string
	err  error
}

func newClassifiedError(kind string, err error) *classifiedError {
	return &classifiedError{kind: kind, err: err}
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }
func (e *classifiedError) Kind() string  { return e.kind }

// classify returns the errclass kind for err, preferring a
// [*classifiedError]'s precomputed kind over [errclass.Classify]'s
// generic heuristics.
func classify(c ErrClassifier, err error) string {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return c.Classify(err)
}
