// Package snapshot persists periodic holdings snapshots as JSON files.
//
// The store is append-mostly: one file per snapshot date, named
// YYYY-MM-DD.json, written once per date unless a replace is requested.
// A retention policy prunes files older than a configured horizon but
// never the date written in the current cycle.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/pkg/errors"
	"portfolio-consolidation-service/pkg/logger"
)

// Snapshot is one persisted point-in-time holdings record.
type Snapshot struct {
	Date      string                     `json:"date"`
	WrittenAt time.Time                  `json:"written_at"`
	Holdings  []*models.CanonicalHolding `json:"holdings"`
}

// Config holds snapshot store settings.
type Config struct {
	// Dir is the directory holding one JSON file per snapshot date.
	Dir string `mapstructure:"dir"`

	// RetentionMonths prunes snapshots older than this many months.
	// Zero disables pruning.
	RetentionMonths int `mapstructure:"retention_months"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "snapshot.dir", "")
	}
	if c.RetentionMonths < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "snapshot.retention_months",
			fmt.Sprintf("%d", c.RetentionMonths))
	}
	return nil
}

// Store reads and writes snapshot files. Writes and pruning are
// serialized with an internal mutex so a snapshot cannot be pruned in the
// same cycle it was written.
type Store struct {
	mu     sync.Mutex
	config *Config
	logger logger.Logger
}

// NewStore creates the store and its directory.
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "snapshot", "")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, config.Dir, err)
	}
	return &Store{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("snapshot_store"),
	}, nil
}

// Write persists a snapshot for the given date. A snapshot already stored
// for that date is rejected unless replace is set.
func (s *Store) Write(date time.Time, holdings []*models.CanonicalHolding, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.Midnight(date).Format(models.DateFormat)
	path := s.pathFor(key)

	if _, err := os.Stat(path); err == nil && !replace {
		return errors.SnapshotError(errors.CodeSnapshotExists, key, nil).
			WithSuggestion("Pass replace to overwrite the stored snapshot for this date")
	}

	snap := &Snapshot{
		Date:      key,
		WrittenAt: time.Now().UTC(),
		Holdings:  holdings,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.SnapshotError(errors.CodeSnapshotCorrupted, key, err)
	}

	// Write to a temp file first so a crash never leaves a truncated
	// snapshot behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}

	s.logger.WithFields(logger.Fields{
		"date":     key,
		"holdings": len(holdings),
		"replaced": replace,
	}).Info("Wrote snapshot")
	return nil
}

// Load returns the stored snapshot for a date.
func (s *Store) Load(date time.Time) (*Snapshot, error) {
	key := models.Midnight(date).Format(models.DateFormat)
	return s.loadKey(key)
}

// Latest returns the most recent stored snapshot, or a not-found error if
// the store is empty.
func (s *Store) Latest() (*Snapshot, error) {
	keys, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.SnapshotError(errors.CodeSnapshotNotFound, "latest", nil).
			WithSuggestion("Run a consolidation with snapshot writing enabled first")
	}
	return s.loadKey(keys[len(keys)-1])
}

// List returns all stored snapshot dates in ascending order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, s.config.Dir, err)
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".json")
		if _, err := time.Parse(models.DateFormat, key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// History loads every stored snapshot in ascending date order.
func (s *Store) History() ([]*Snapshot, error) {
	keys, err := s.List()
	if err != nil {
		return nil, err
	}
	snaps := make([]*Snapshot, 0, len(keys))
	for _, key := range keys {
		snap, err := s.loadKey(key)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Prune removes snapshots older than the retention horizon, measured from
// keep. The snapshot for keep itself is never removed, regardless of the
// horizon. Returns the removed dates.
func (s *Store) Prune(keep time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.RetentionMonths <= 0 {
		return nil, nil
	}

	keepKey := models.Midnight(keep).Format(models.DateFormat)
	cutoff := models.Midnight(keep).AddDate(0, -s.config.RetentionMonths, 0)

	keys, err := s.List()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, key := range keys {
		if key == keepKey {
			continue
		}
		date, err := time.Parse(models.DateFormat, key)
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			if err := os.Remove(s.pathFor(key)); err != nil {
				return removed, errors.FileError(errors.CodeFileCorrupted, s.pathFor(key), err)
			}
			removed = append(removed, key)
		}
	}

	if len(removed) > 0 {
		s.logger.WithFields(logger.Fields{
			"removed":          len(removed),
			"retention_months": s.config.RetentionMonths,
		}).Info("Pruned old snapshots")
	}
	return removed, nil
}

func (s *Store) loadKey(key string) (*Snapshot, error) {
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.SnapshotError(errors.CodeSnapshotNotFound, key, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, s.pathFor(key), err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.SnapshotError(errors.CodeSnapshotCorrupted, key, err)
	}
	return &snap, nil
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.config.Dir, key+".json")
}
