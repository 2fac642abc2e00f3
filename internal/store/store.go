// Package store persists the daemon's DaemonConfiguration as a single JSON
// document at a caller-supplied path.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pks-run/runnerd/internal/errkinds"
)

// Store loads and saves a DaemonConfiguration. Mutations are admin actions,
// not hot-path, so a single coarse lock around the in-memory copy is
// sufficient.
type Store struct {
	path string

	mu  sync.Mutex
	cfg DaemonConfiguration
}

// Open loads the configuration at path, or defaults if it does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	cfg, err := s.load()
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

// Load returns the current in-memory configuration. It does not re-read
// the file; callers that need to pick up external edits should Open again.
func (s *Store) Load() DaemonConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Store) load() (DaemonConfiguration, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return defaultConfiguration(), nil
	}
	if err != nil {
		return DaemonConfiguration{}, &errkinds.ConfigError{Path: s.path, Err: err}
	}

	var cfg DaemonConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		// Fail loud: the daemon refuses to start on a corrupt config
		// rather than silently dropping registrations.
		return DaemonConfiguration{}, &errkinds.ConfigError{Path: s.path, Err: fmt.Errorf("malformed config: %w", err)}
	}
	if cfg.PollingIntervalSeconds <= 0 {
		cfg.PollingIntervalSeconds = DefaultPollingIntervalSeconds
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if len(cfg.ReservedLabels) == 0 {
		cfg.ReservedLabels = append([]string{}, DefaultReservedLabels...)
	}
	return cfg, nil
}

// Save persists cfg, stamping LastModified and creating any missing parent
// directories. The write is atomic enough that concurrent readers never
// observe a truncated file: write to a temp file in the same directory,
// then rename.
func (s *Store) Save(cfg DaemonConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg)
}

func (s *Store) saveLocked(cfg DaemonConfiguration) error {
	now := time.Now().UTC()
	cfg.LastModified = &now

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp config file: %w", err)
	}

	s.cfg = cfg
	return nil
}

// AddRegistration appends a new registration with a freshly generated ID
// and saves.
func (s *Store) AddRegistration(owner, repo, labels string) (RunnerRegistration, error) {
	if labels == "" {
		labels = DefaultDistinguishingLabel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg := RunnerRegistration{
		ID:        ulid.Make().String(),
		Owner:     owner,
		Repo:      repo,
		Labels:    labels,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}

	cfg := s.cfg
	cfg.Registrations = append(append([]RunnerRegistration{}, cfg.Registrations...), reg)
	if err := s.saveLocked(cfg); err != nil {
		return RunnerRegistration{}, err
	}
	return reg, nil
}

// RemoveRegistration removes the registration with id, returning whether it
// was found. Saves only when something was removed.
func (s *Store) RemoveRegistration(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.cfg
	kept := make([]RunnerRegistration, 0, len(cfg.Registrations))
	found := false
	for _, r := range cfg.Registrations {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return false, nil
	}

	cfg.Registrations = kept
	if err := s.saveLocked(cfg); err != nil {
		return false, err
	}
	return true, nil
}

// ListRegistrations returns a snapshot of all registrations.
func (s *Store) ListRegistrations() []RunnerRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunnerRegistration{}, s.cfg.Registrations...)
}

// GetRegistration returns the registration with id, if any.
func (s *Store) GetRegistration(id string) (RunnerRegistration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.cfg.Registrations {
		if r.ID == id {
			return r, true
		}
	}
	return RunnerRegistration{}, false
}
