// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-doc-sync/models"
)

func TestParseEnv(t *testing.T) {
	t.Setenv("APP_TOKEN_SIGN_KEY", "sekrit")
	t.Setenv("APP_TOKEN_DURATION", "45m")
	t.Setenv("STORAGE_DB_DATABASE_URI", "/tmp/docs.db")
	t.Setenv("SYNC_REMOTE", "ws://example.com/sync")
	t.Setenv("SYNC_PUSH", "one-shot")
	t.Setenv("SYNC_DOC_IDS", "a,b,c")

	var cfg StructuredConfig
	require.NoError(t, parseEnv(&cfg))

	assert.Equal(t, "sekrit", cfg.App.TokenSignKey)
	assert.Equal(t, 45*time.Minute, cfg.App.TokenDuration)
	assert.Equal(t, "/tmp/docs.db", cfg.Storage.DB.DSN)
	assert.Equal(t, "ws://example.com/sync", cfg.Sync.Remote)
	assert.Equal(t, "one-shot", cfg.Sync.Push)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Sync.DocIDs)
}

func TestParseJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"storage": {"db": {"dsn": "docs.db"}, "blobs": {"dir": "blobs"}},
		"server": {"http_address": "localhost:8080", "request_timeout": "20s"},
		"sync": {"remote": "ws://peer/sync", "pull": "continuous", "checkpoint_interval": "2s"}
	}`), 0o600))

	cfg, err := parseJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "docs.db", cfg.Storage.DB.DSN)
	assert.Equal(t, "blobs", cfg.Storage.Blobs.Dir)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddress)
	assert.Equal(t, 20*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "continuous", cfg.Sync.Pull)
	assert.Equal(t, 2*time.Second, cfg.Sync.CheckpointInterval)
}

func TestParseJSONMissingFile(t *testing.T) {
	_, err := parseJSON(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestNetAddress(t *testing.T) {
	var addr NetAddress
	require.NoError(t, addr.Set("localhost:9090"))
	assert.Equal(t, "localhost:9090", addr.String())

	assert.Error(t, addr.Set("no-port"))
	assert.Error(t, addr.Set("localhost:-1"))
	assert.Error(t, addr.Set("not an ip:80"))
}

func TestParseMode(t *testing.T) {
	for input, want := range map[string]models.Mode{
		"":           models.ModeDisabled,
		"disabled":   models.ModeDisabled,
		"passive":    models.ModePassive,
		"one-shot":   models.ModeOneShot,
		"continuous": models.ModeContinuous,
	} {
		mode, err := ParseMode(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, mode, input)
	}

	_, err := ParseMode("sideways")
	assert.Error(t, err)
}

func TestClientConfigValidation(t *testing.T) {
	cfg := &ClientConfig{
		Storage: Storage{DB: DB{DSN: "docs.db"}},
		Sync:    Sync{Remote: "ws://peer/sync", Push: "one-shot", Pull: "disabled"},
	}
	assert.NoError(t, cfg.validate())

	cfg.Sync.Remote = ""
	assert.ErrorIs(t, cfg.validate(), ErrInvalidSyncConfigs)

	cfg.Sync.Remote = "ws://peer/sync"
	cfg.Storage.DB.DSN = ""
	assert.ErrorIs(t, cfg.validate(), ErrInvalidStorageConfigs)

	cfg.Storage.DB.DSN = "docs.db"
	cfg.Sync.Push, cfg.Sync.Pull = "disabled", "disabled"
	assert.ErrorIs(t, cfg.validate(), ErrInvalidSyncConfigs)
}
