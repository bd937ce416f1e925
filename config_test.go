// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)

	// ErrClassifier should use errclass by default.
	assert.Equal(t, "", cfg.ErrClassifier.Classify(nil))
	assert.Equal(t, "ETIMEDOUT", cfg.ErrClassifier.Classify(context.DeadlineExceeded))

	// TimeNow should be set and return a valid time.
	now := cfg.TimeNow()
	assert.False(t, now.IsZero())

	// Domain defaults.
	assert.Equal(t, "unix", cfg.ListenNetwork)
	assert.Equal(t, "/run/rexecd.sock", cfg.ListenAddress)
	assert.Equal(t, 3600, cfg.DefaultCommandTimeout)
	assert.Equal(t, 256*1024, cfg.OutboundQueueHighWaterMark)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.DefaultEnv)
}

func TestConfigOverride(t *testing.T) {
	cfg := NewConfig()
	cfg.DefaultCommandTimeout = 30
	cfg.DefaultEnv = map[string]string{"PATH": "/usr/bin"}

	assert.Equal(t, 30, cfg.DefaultCommandTimeout)
	assert.Equal(t, "/usr/bin", cfg.DefaultEnv["PATH"])
}
