// Package cases loads the patient case catalogue from a directory of JSON files.
package cases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pavelanni/simpatient/internal/model"
)

// Catalogue caches the cases found in a directory. The directory is read on
// first use and again on Reload.
type Catalogue struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]model.Case
}

// New creates a catalogue over dir. Nothing is read until the first lookup.
func New(dir string, logger *slog.Logger) *Catalogue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalogue{dir: dir, logger: logger}
}

// List returns all cases sorted by id.
func (c *Catalogue) List(ctx context.Context) ([]model.Case, error) {
	all, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Case, 0, len(all))
	for _, cs := range all {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the case with the given id or model.ErrCaseNotFound.
func (c *Catalogue) Get(ctx context.Context, id string) (model.Case, error) {
	all, err := c.load(ctx)
	if err != nil {
		return model.Case{}, err
	}
	cs, ok := all[id]
	if !ok {
		return model.Case{}, fmt.Errorf("case %q: %w", id, model.ErrCaseNotFound)
	}
	return cs, nil
}

// GetCase is Get under the name the interview package expects.
func (c *Catalogue) GetCase(ctx context.Context, id string) (model.Case, error) {
	return c.Get(ctx, id)
}

// Reload drops the cache and reads the directory again. It returns the number
// of cases loaded.
func (c *Catalogue) Reload(ctx context.Context) (int, error) {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
	all, err := c.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (c *Catalogue) load(ctx context.Context) (map[string]model.Case, error) {
	c.mu.RLock()
	cached := c.cache
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil {
		return c.cache, nil
	}
	all, err := readDir(ctx, c.dir, c.logger)
	if err != nil {
		return nil, err
	}
	c.cache = all
	c.logger.Info("loaded cases", "dir", c.dir, "count", len(all))
	return all, nil
}

// readDir parses every *.json file in dir. Files that fail to parse or lack
// an id are logged and skipped. A missing directory yields no cases.
func readDir(ctx context.Context, dir string, logger *slog.Logger) (map[string]model.Case, error) {
	all := make(map[string]model.Case)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Warn("cases directory does not exist", "dir", dir)
		return all, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list case files: %w", err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cs, err := readFile(f)
		if err != nil {
			logger.Warn("skipping case file", "file", f, "error", err)
			continue
		}
		all[cs.ID] = cs
	}
	return all, nil
}

func readFile(path string) (model.Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Case{}, err
	}
	var cs model.Case
	if err := json.Unmarshal(data, &cs); err != nil {
		return model.Case{}, fmt.Errorf("parse: %w", err)
	}
	if cs.ID == "" {
		return model.Case{}, fmt.Errorf("missing id")
	}
	if cs.DifficultyLevel == "" {
		cs.DifficultyLevel = model.DifficultyMedium
	}
	return cs, nil
}
