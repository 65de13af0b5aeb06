// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.cbor")

	missing, err := LoadCredentials(path)
	if err != nil || missing != nil {
		t.Fatalf("LoadCredentials on missing file = %v, %v; want nil, nil", missing, err)
	}

	want := Credentials{
		HomeserverURL: "https://matrix.test",
		Username:      "alice",
		UserID:        "@alice:test",
		DeviceID:      "DEV1",
		AccessToken:   "syt_secret",
	}
	if err := SaveCredentials(path, want); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("credentials mode = %o, want 600", mode)
	}
	directory, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("stat directory: %v", err)
	}
	if mode := directory.Mode().Perm(); mode != 0o700 {
		t.Errorf("directory mode = %o, want 700", mode)
	}

	got, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if *got != want {
		t.Errorf("LoadCredentials = %+v, want %+v", *got, want)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the credentials file", len(entries))
	}

	if err := RemoveCredentials(path); err != nil {
		t.Fatalf("RemoveCredentials: %v", err)
	}
	if err := RemoveCredentials(path); err != nil {
		t.Errorf("RemoveCredentials on missing file: %v", err)
	}
}

func TestLoadCredentialsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.cbor")
	if err := os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCredentials(path); err == nil {
		t.Fatal("expected error for corrupt credentials")
	}
}
