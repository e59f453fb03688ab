// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"time"
)

// StructuredConfig is the top-level configuration container for the
// go-doc-sync processes. It aggregates all sub-configurations and is
// populated by merging values from environment variables, command-line
// flags, and an optional JSON file.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type StructuredConfig struct {
	// App holds application-level settings such as the sync token keys
	// and the application version.
	App App `envPrefix:"APP_"`

	// Storage holds configuration for the persistence backends: the
	// document database and the blob directory.
	Storage Storage `envPrefix:"STORAGE_"`

	// Server holds network address and timeout settings for the passive
	// sync peer.
	Server Server `envPrefix:"SERVER_"`

	// Sync holds replication settings for the active client.
	Sync Sync `envPrefix:"SYNC_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and its values fill only the
	// fields that environment variables and flags left empty.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// App holds application-level configuration values.
type App struct {
	// TokenSignKey is the secret key used to sign and verify the JWT
	// tokens presented on the sync endpoint. Must be kept confidential.
	// Env: APP_TOKEN_SIGN_KEY
	TokenSignKey string `env:"TOKEN_SIGN_KEY"`

	// TokenIssuer is the "iss" claim embedded in every issued token.
	// Env: APP_TOKEN_ISSUER
	TokenIssuer string `env:"TOKEN_ISSUER"`

	// TokenDuration specifies how long an issued token remains valid
	// (e.g. "1h", "30m").
	// Env: APP_TOKEN_DURATION
	TokenDuration time.Duration `env:"TOKEN_DURATION"`

	// Version is the semantic version string of the running application,
	// exposed via the /api/version endpoint and checked by clients before
	// replicating.
	// Env: APP_VERSION
	Version string `env:"VERSION"`
}

// Server holds network and timeout settings for the passive sync peer.
type Server struct {
	// HTTPAddress is the TCP address the sync server listens on, in
	// "host:port" format (e.g. "0.0.0.0:8080").
	// Env: SERVER_ADDRESS
	HTTPAddress string `env:"ADDRESS"`

	// RequestTimeout is the maximum duration allowed for plain HTTP
	// requests (the sync websocket is exempt).
	// Env: SERVER_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
}

// Storage groups persistence backend settings.
type Storage struct {
	// DB holds the document database settings.
	DB DB `envPrefix:"DB_"`

	// Blobs holds the attachment store settings.
	Blobs Blobs `envPrefix:"BLOBS_"`
}

// DB holds document database settings.
type DB struct {
	// DSN is the sqlite database path (or ":memory:").
	// Env: STORAGE_DB_DATABASE_URI
	DSN string `env:"DATABASE_URI"`
}

// Blobs holds attachment store settings.
type Blobs struct {
	// Dir is the directory holding content-addressed attachment files.
	// Env: STORAGE_BLOBS_DIR
	Dir string `env:"DIR"`

	// Passphrase, when non-empty, enables at-rest encryption of blob
	// files; the AES key is derived from it.
	// Env: STORAGE_BLOBS_PASSPHRASE
	Passphrase string `env:"PASSPHRASE"`

	// KeySalt is the salt for the key derivation. Must stay stable for
	// the lifetime of the blob directory.
	// Env: STORAGE_BLOBS_KEY_SALT
	KeySalt string `env:"KEY_SALT"`
}

// Sync holds replication settings used by the active client.
type Sync struct {
	// Remote is the sync endpoint URL (ws:// or wss://).
	// Env: SYNC_REMOTE
	Remote string `env:"REMOTE"`

	// Push and Pull select the replication direction modes:
	// "disabled", "one-shot", or "continuous".
	// Env: SYNC_PUSH / SYNC_PULL
	Push string `env:"PUSH"`
	Pull string `env:"PULL"`

	// NoConflicts rejects revisions that would create conflicting
	// branches instead of storing them.
	// Env: SYNC_NO_CONFLICTS
	NoConflicts bool `env:"NO_CONFLICTS"`

	// SkipDeleted drops tombstones from outgoing replication.
	// Env: SYNC_SKIP_DELETED
	SkipDeleted bool `env:"SKIP_DELETED"`

	// DocIDs, when non-empty, restricts replication to these documents.
	// Env: SYNC_DOC_IDS (comma separated)
	DocIDs []string `env:"DOC_IDS"`

	// CheckpointInterval bounds how long a dirty replication checkpoint
	// may stay unsaved.
	// Env: SYNC_CHECKPOINT_INTERVAL
	CheckpointInterval time.Duration `env:"CHECKPOINT_INTERVAL"`

	// Token is a pre-issued JWT presented on the sync endpoint.
	// Env: SYNC_TOKEN
	Token string `env:"TOKEN"`

	// Cookies is an extra Cookie header value for the upgrade request.
	// Env: SYNC_COOKIES
	Cookies string `env:"COOKIES"`
}

// GetStructuredConfig loads, merges, and validates the application
// configuration from all available sources in the following priority order
// (the first source that sets a field wins; later sources only fill fields
// that are still zero):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//
// Returns a fully populated *StructuredConfig or an error if any source
// fails to load or the final config fails validation.
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags().
		withJSON().
		build()
}
