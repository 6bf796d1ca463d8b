// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.speecharchive/speecharchive.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".speecharchive", "speecharchive.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
//
// # Description
//
// Values missing from the file keep their defaults. Paths are expanded
// and the result is validated before it is returned.
//
// # Outputs
//
//   - Config: Validated configuration
//   - bool: true when the file was created by this call
//   - error: read, parse or validation failure
func Load(path string) (Config, bool, error) {
	created := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return Config{}, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, created, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, created, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.Archive.BasePath, err = ExpandHome(cfg.Archive.BasePath)
	if err != nil {
		return Config{}, created, err
	}
	cfg.Logging.Dir, err = ExpandHome(cfg.Logging.Dir)
	if err != nil {
		return Config{}, created, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, created, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, created, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
