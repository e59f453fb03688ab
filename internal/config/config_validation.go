// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import "fmt"

// validate checks the merged [StructuredConfig]. The merged form carries
// settings for both roles, so only universally required fields are checked
// here; role-specific checks live on the derived configs.
func (cfg *StructuredConfig) validate() error {
	if cfg.Sync.Push != "" {
		if _, err := ParseMode(cfg.Sync.Push); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSyncConfigs, err)
		}
	}
	if cfg.Sync.Pull != "" {
		if _, err := ParseMode(cfg.Sync.Pull); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSyncConfigs, err)
		}
	}
	return nil
}

func (cfg *ServerConfig) validate() error {
	if cfg.Storage.DB.DSN == "" {
		return ErrInvalidStorageConfigs
	}
	if cfg.Server.HTTPAddress == "" {
		return ErrInvalidServerConfigs
	}
	return nil
}

func (cfg *ClientConfig) validate() error {
	if cfg.Storage.DB.DSN == "" {
		return ErrInvalidStorageConfigs
	}
	if cfg.Sync.Remote == "" {
		return ErrInvalidSyncConfigs
	}
	if cfg.Sync.Push == "disabled" && cfg.Sync.Pull == "disabled" {
		return fmt.Errorf("%w: both directions disabled", ErrInvalidSyncConfigs)
	}
	return nil
}
