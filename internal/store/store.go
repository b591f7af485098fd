// Print Worker Core is a desktop print bridge service.
//
// Copyright (C) 2026  Print Worker Core Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package store persists the agent's configuration and session snapshot to
// a single JSON document in the host-provided user-data directory. Writes
// are atomic full-file replacements (temp file + rename), the same
// discipline the agent example uses for its own state file
// (agent/internal/connection/manager.go's loadState/saveState), generalized
// from a single agent-id field to the full {config, session} document and
// with the session tokens encrypted at rest via internal/cryptoenc.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"printbridge/internal/cryptoenc"
	"printbridge/pkg/bridge"
)

const fileName = "desktop-print-worker.json"

// document is the on-disk shape: config plus the encrypted session
// snapshot.
type document struct {
	Config  bridge.AgentConfig     `json:"config"`
	Session encryptedSessionFields `json:"session"`
}

// encryptedSessionFields mirrors bridge.SessionSnapshot but with the two
// token fields stored as ciphertext.
type encryptedSessionFields struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    *int64 `json:"expiresAt"`
}

// Store owns the on-disk state file for one agent process.
type Store struct {
	mu       sync.Mutex
	path     string
	enc      *cryptoenc.Encryptor
	logger   *slog.Logger
	platform string
}

// Open prepares a Store rooted at userDataDir. enc may be nil, in which
// case session tokens are stored in plaintext (cryptoenc.Encryptor already
// degrades gracefully to a passthrough when nil).
func Open(userDataDir string, enc *cryptoenc.Encryptor, platformPrefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:     filepath.Join(userDataDir, fileName),
		enc:      enc,
		logger:   logger,
		platform: platformPrefix,
	}
}

// Load reads the persisted state. A missing or unparseable file yields
// defaults rather than an error.
func (s *Store) Load() (bridge.AgentConfig, bridge.SessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defaultCfg := bridge.DefaultAgentConfig(s.platform)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("store: failed to read state file, using defaults", "error", err)
		}
		return defaultCfg, bridge.SessionSnapshot{}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("store: corrupted state file, using defaults", "error", err)
		return defaultCfg, bridge.SessionSnapshot{}
	}

	cfg := doc.Config.Sanitize(s.platform)
	session, err := s.decryptSession(doc.Session)
	if err != nil {
		s.logger.Warn("store: failed to decrypt session, treating as signed out", "error", err)
		return cfg, bridge.SessionSnapshot{}
	}
	return cfg, session
}

// Save writes config and session as one full-file replacement.
func (s *Store) Save(cfg bridge.AgentConfig, session bridge.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encSession, err := s.encryptSession(session)
	if err != nil {
		return fmt.Errorf("store: encrypt session: %w", err)
	}

	doc := document{Config: cfg.Sanitize(s.platform), Session: encSession}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	ok = true
	return nil
}

func (s *Store) encryptSession(session bridge.SessionSnapshot) (encryptedSessionFields, error) {
	access, err := s.enc.Encrypt(session.AccessToken)
	if err != nil {
		return encryptedSessionFields{}, err
	}
	refresh, err := s.enc.Encrypt(session.RefreshToken)
	if err != nil {
		return encryptedSessionFields{}, err
	}
	return encryptedSessionFields{AccessToken: access, RefreshToken: refresh, ExpiresAt: session.ExpiresAt}, nil
}

func (s *Store) decryptSession(fields encryptedSessionFields) (bridge.SessionSnapshot, error) {
	access, err := s.enc.Decrypt(fields.AccessToken)
	if err != nil {
		return bridge.SessionSnapshot{}, err
	}
	refresh, err := s.enc.Decrypt(fields.RefreshToken)
	if err != nil {
		return bridge.SessionSnapshot{}, err
	}
	return bridge.SessionSnapshot{AccessToken: access, RefreshToken: refresh, ExpiresAt: fields.ExpiresAt}, nil
}
