// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twopence-project/rexecd/errclass"
)

// rootLikeLookup resolves any name to a UID-0 user rooted at dir, so
// openFileAs takes its direct-open branch without requiring the test
// process to hold real root privileges.
func rootLikeLookup(dir string) UserLookup {
	return &fakeUserLookup{users: map[string]ResolvedUser{
		"root": {Name: "root", UID: 0, GID: 0, HomeDir: dir},
	}}
}

func TestOpenFileAsWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	lookup := rootLikeLookup(dir)
	logger := DefaultSLogger()

	f, err := openFileAs(lookup, logger, "root", "notes.txt", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("hello")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := os.Stat(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	f, err = openFileAs(lookup, logger, "root", "notes.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 16)
	n, _ := f.Read(buf)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestOpenFileAsAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "abs.txt")
	lookup := rootLikeLookup(dir)

	f, err := openFileAs(lookup, DefaultSLogger(), "root", target, os.O_WRONLY|os.O_CREATE, 0600)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = os.Stat(target)
	require.NoError(t, err)
}

func TestOpenFileAsUnknownUser(t *testing.T) {
	lookup := rootLikeLookup(t.TempDir())

	_, err := openFileAs(lookup, DefaultSLogger(), "nosuchuser", "x", os.O_RDONLY, 0)
	require.Error(t, err)
	assert.Equal(t, errclass.ENOENT, classify(DefaultErrClassifier, err))
}

func TestOpenFileAsPathTooLong(t *testing.T) {
	dir := t.TempDir()
	lookup := rootLikeLookup(dir)

	longName := strings.Repeat("x", maxPathLength)
	_, err := openFileAs(lookup, DefaultSLogger(), "root", longName, os.O_RDONLY, 0)
	require.Error(t, err)
	assert.Equal(t, errclass.ENAMETOOLONG, classify(DefaultErrClassifier, err))
}

func TestOpenFileAsRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	lookup := rootLikeLookup(dir)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "adir"), 0755))

	_, err := openFileAs(lookup, DefaultSLogger(), "root", "adir", os.O_RDONLY, 0)
	require.Error(t, err)
	assert.Equal(t, errclass.EISDIR, classify(DefaultErrClassifier, err))
}

func TestSavedCredentialsRestoreAbortsOnFailure(t *testing.T) {
	called := false
	orig := abortProcess
	abortProcess = func(logger SLogger, reason string, err error) { called = true }
	defer func() { abortProcess = orig }()

	// An out-of-range uid/gid makes Seteuid/Setegid fail deterministically.
	saved := &SavedCredentials{uid: -1, gid: -1}
	saved.Restore(DefaultSLogger())

	assert.True(t, called)
}
