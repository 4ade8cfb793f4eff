package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ferrovax/ironclaw/pkg/logger"
)

// Store keeps schedule definitions as one JSON file per definition, with
// an in-memory cache. Definitions failing validation are skipped at load
// with an error log; a broken schedule must not take the service down.
type Store struct {
	baseDir string
	mu      sync.RWMutex
	defs    map[string]*Definition
}

// NewStore opens the definition directory.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cron dir: %w", err)
	}
	return &Store{baseDir: baseDir, defs: make(map[string]*Definition)}, nil
}

// Load reads and validates every definition file. Invalid definitions
// are rejected here, never at tick time.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("scan cron dir: %w", err)
	}

	s.defs = make(map[string]*Definition)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.ErrorCF("cron", "Unreadable schedule file", map[string]interface{}{
				"file": entry.Name(), "error": err.Error(),
			})
			continue
		}
		var def Definition
		if err := json.Unmarshal(data, &def); err != nil {
			logger.ErrorCF("cron", "Malformed schedule file", map[string]interface{}{
				"file": entry.Name(), "error": err.Error(),
			})
			continue
		}
		if err := def.Validate(); err != nil {
			logger.ErrorCF("cron", "Rejected schedule", map[string]interface{}{
				"file": entry.Name(), "error": err.Error(),
			})
			continue
		}
		s.defs[def.ID] = &def
	}
	return nil
}

// Put validates and persists a definition.
func (s *Store) Put(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	path := filepath.Join(s.baseDir, def.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	s.defs[def.ID] = def
	return nil
}

// markRan persists LastRun without revalidating.
func (s *Store) markRan(def *Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(s.baseDir, def.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.WarnCF("cron", "Failed to persist last run", map[string]interface{}{
			"schedule": def.ID, "error": err.Error(),
		})
	}
}

// All returns the loaded definitions, stable order by id.
func (s *Store) All() []*Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
