package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-chatroom/config"
	"github.com/cyberinferno/go-chatroom/insult"
)

func TestParseConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, printConfig, err := parseConfig(nil)
		require.NoError(t, err)
		assert.False(t, printConfig)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("flags override the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "chatserver.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n  max_sessions: 4\nlog:\n  level: warn\n"), 0o600))

		cfg, _, err := parseConfig([]string{"-config", path, "-port", "9500", "-status", ":9501"})
		require.NoError(t, err)

		assert.Equal(t, 9500, cfg.Server.Port, "flag wins")
		assert.Equal(t, 4, cfg.Server.MaxSessions, "file value kept when the flag is absent")
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, ":9501", cfg.Status.Addr)
	})

	t.Run("invalid flag value", func(t *testing.T) {
		_, _, err := parseConfig([]string{"-max-sessions", "0"})
		assert.ErrorContains(t, err, "server.max_sessions")
	})

	t.Run("port zero is rejected", func(t *testing.T) {
		_, _, err := parseConfig([]string{"-port", "0"})
		assert.ErrorContains(t, err, "server.port 0 out of range")
	})

	t.Run("print config", func(t *testing.T) {
		_, printConfig, err := parseConfig([]string{"-print-config"})
		require.NoError(t, err)
		assert.True(t, printConfig)
	})
}

func TestLoadInsults(t *testing.T) {
	pool, err := loadInsults(config.InsultsConfig{})
	require.NoError(t, err)
	assert.Equal(t, insult.DefaultPhrases, pool.Phrases())

	path := filepath.Join(t.TempDir(), "insults.txt")
	require.NoError(t, os.WriteFile(path, []byte("You rogue.\n\n  You knave.  \n"), 0o600))

	pool, err = loadInsults(config.InsultsConfig{File: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"You rogue.", "You knave."}, pool.Phrases())
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(config.LogConfig{Level: "debug"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = newLogger(config.LogConfig{Level: "nope"})
	assert.Error(t, err)

	l, err = newLogger(config.LogConfig{Level: "info", Dir: t.TempDir()})
	require.NoError(t, err)
	l.Info("written to file")
	require.NoError(t, l.Close())
}
