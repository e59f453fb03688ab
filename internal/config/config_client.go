package config

import (
	"fmt"
	"time"

	"github.com/MKhiriev/go-doc-sync/models"
)

// ServerConfig is the view of the merged configuration used by the
// passive sync peer.
type ServerConfig struct {
	App     App
	Storage Storage
	Server  Server
}

// ClientConfig is the view of the merged configuration used by the active
// replication client.
type ClientConfig struct {
	Storage Storage
	Sync    Sync
}

// GetServerConfig builds and validates the server-specific view of the
// merged configuration.
func GetServerConfig() (*ServerConfig, error) {
	cfg, err := GetStructuredConfig()
	if err != nil {
		return nil, fmt.Errorf("error get structured config: %w", err)
	}

	serverCfg := &ServerConfig{
		App:     cfg.App,
		Storage: cfg.Storage,
		Server:  cfg.Server,
	}
	if serverCfg.Server.RequestTimeout == 0 {
		serverCfg.Server.RequestTimeout = 30 * time.Second
	}
	return serverCfg, serverCfg.validate()
}

// GetClientConfig builds and validates the client-specific view of the
// merged configuration.
func GetClientConfig() (*ClientConfig, error) {
	cfg, err := GetStructuredConfig()
	if err != nil {
		return nil, fmt.Errorf("error get structured config: %w", err)
	}

	clientCfg := &ClientConfig{
		Storage: cfg.Storage,
		Sync:    cfg.Sync,
	}
	if clientCfg.Sync.Push == "" {
		clientCfg.Sync.Push = "disabled"
	}
	if clientCfg.Sync.Pull == "" {
		clientCfg.Sync.Pull = "disabled"
	}
	return clientCfg, clientCfg.validate()
}

// ParseMode converts a configuration string into a replication mode.
func ParseMode(s string) (models.Mode, error) {
	switch s {
	case "", "disabled":
		return models.ModeDisabled, nil
	case "passive":
		return models.ModePassive, nil
	case "one-shot":
		return models.ModeOneShot, nil
	case "continuous":
		return models.ModeContinuous, nil
	default:
		return models.ModeDisabled, fmt.Errorf("unknown replication mode %q", s)
	}
}
