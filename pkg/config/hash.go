package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrBaseHashMismatch is returned when a patch carries a base_hash that no
// longer matches the live config.
var ErrBaseHashMismatch = errors.New("base_hash mismatch")

// Store holds the live config snapshot behind a mutex and implements the
// optimistic-concurrency patch protocol: readers clone, writers replace the
// snapshot atomically and rewrite the config file.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  *Config
	hash string
}

func NewStore(path string, cfg *Config) (*Store, error) {
	h, err := hashConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: cfg, hash: h}, nil
}

// Snapshot returns a deep copy of the current config plus its hash.
func (s *Store) Snapshot() (*Config, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneConfig(s.cfg)
	return clone, s.hash
}

func (s *Store) Hash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash
}

// ApplyPatch merges a JSON patch body into the config. When baseHash is
// non-empty it must equal the live hash or nothing changes. A successful
// apply writes the config file atomically and recomputes the hash.
func (s *Store) ApplyPatch(patch []byte, baseHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if baseHash != "" && baseHash != s.hash {
		return "", ErrBaseHashMismatch
	}

	next := cloneConfig(s.cfg)
	if err := json.Unmarshal(patch, next); err != nil {
		return "", fmt.Errorf("parse config patch: %w", err)
	}
	if err := next.Validate(); err != nil {
		return "", err
	}

	if s.path != "" {
		if err := SaveConfig(s.path, next); err != nil {
			return "", fmt.Errorf("write config: %w", err)
		}
	}

	h, err := hashConfig(next)
	if err != nil {
		return "", err
	}
	s.cfg = next
	s.hash = h
	return h, nil
}

func hashConfig(cfg *Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func cloneConfig(cfg *Config) *Config {
	data, _ := json.Marshal(cfg)
	clone := &Config{}
	_ = json.Unmarshal(data, clone)
	return clone
}
