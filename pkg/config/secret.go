// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strings"
)

// Secret holds a sensitive value that may be supplied directly, through a
// file, or through the name of an environment variable. Exactly one source is
// consulted, in the order value, file, env.
type Secret struct {
	// Value is the secret itself, in cleartext.
	Value string `mapstructure:"value"`
	// File is the location of a file containing the secret.
	File string `mapstructure:"file"`
	// Env is the name of an environment variable holding the secret.
	Env string `mapstructure:"env"`
}

// Resolve returns the secret value from the first configured source.
// An empty Secret resolves to the empty string without error; callers decide
// whether a missing secret is acceptable.
func (s *Secret) Resolve() (string, error) {
	if s.Value != "" {
		return s.Value, nil
	}
	if s.File != "" {
		data, err := os.ReadFile(s.File)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if s.Env != "" {
		val, ok := os.LookupEnv(s.Env)
		if !ok {
			return "", fmt.Errorf("environment variable %q for secret is not set", s.Env)
		}
		return strings.TrimSpace(val), nil
	}
	return "", nil
}

// IsSet reports whether any source for the secret is configured.
func (s *Secret) IsSet() bool {
	return s.Value != "" || s.File != "" || s.Env != ""
}
