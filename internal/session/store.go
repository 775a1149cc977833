// Package session persists the signed-in credential in a JSON file
// shared by every running instance, and watches it so a sign-out in
// one instance signs out the others.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Credentials is the shared authentication state.
type Credentials struct {
	Token string `json:"token"`
	Email string `json:"email,omitempty"`
}

// Authenticated reports whether a usable token is present.
func (c Credentials) Authenticated() bool {
	return strings.TrimSpace(c.Token) != ""
}

// Store defines persistence operations for credentials.
type Store interface {
	Load() (Credentials, error)
	Save(Credentials) error
	Clear() error
}

// JSONStore persists credentials in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed credential store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the backing file location.
func (s *JSONStore) Path() string {
	return s.path
}

// Load reads credentials from disk; a missing file means signed out.
func (s *JSONStore) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, nil
		}

		return Credentials{}, err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, err
	}

	return creds, nil
}

// Save writes credentials as indented JSON and creates parent directories.
func (s *JSONStore) Save(creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o600)
}

// Clear writes an empty credential record. The file is kept in place
// so other instances watching it observe the sign-out.
func (s *JSONStore) Clear() error {
	return s.Save(Credentials{})
}
