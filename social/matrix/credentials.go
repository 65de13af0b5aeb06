// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/socialmux/lib/codec"
)

// Credentials is the cached result of a remembered login.
type Credentials struct {
	HomeserverURL string `cbor:"homeserver_url"`
	Username      string `cbor:"username"`
	UserID        string `cbor:"user_id"`
	DeviceID      string `cbor:"device_id"`
	AccessToken   string `cbor:"access_token"`
}

// LoadCredentials reads a credentials file. A missing file returns
// (nil, nil).
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials %s: %w", path, err)
	}
	var credentials Credentials
	if err := codec.Unmarshal(data, &credentials); err != nil {
		return nil, fmt.Errorf("decoding credentials %s: %w", path, err)
	}
	return &credentials, nil
}

// SaveCredentials writes credentials atomically with owner-only
// permissions, creating the parent directory if needed.
func SaveCredentials(path string, credentials Credentials) error {
	data, err := codec.Marshal(credentials)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}

	temporary, err := os.CreateTemp(directory, ".credentials-*")
	if err != nil {
		return fmt.Errorf("creating temporary credentials file: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("installing credentials %s: %w", path, err)
	}
	return nil
}

// RemoveCredentials deletes a credentials file. A missing file is not
// an error.
func RemoveCredentials(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing credentials %s: %w", path, err)
	}
	return nil
}
