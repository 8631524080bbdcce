// Package dialplan maps dialed digit strings to call targets, grouped into
// named contexts so each line can see a different extension set.
package dialplan

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Config represents the JSON configuration structure.
type Config struct {
	Version  string    `json:"version"`
	Contexts []Context `json:"contexts"`
}

// Context is a named group of extensions.
type Context struct {
	Name       string       `json:"name"`
	Extensions []*Extension `json:"extensions"`
}

// Dialplan provides thread-safe access to the extension table.
// Uses copy-on-write semantics for lock-free reads.
type Dialplan struct {
	contexts atomic.Pointer[map[string][]*Extension]
	path     string
	logger   *slog.Logger
}

// New creates a new Dialplan from a JSON config file.
func New(path string, logger *slog.Logger) (*Dialplan, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dialplan{
		path:   path,
		logger: logger,
	}

	if err := d.Reload(); err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}

	return d, nil
}

// Reload reloads configuration from the file.
// Thread-safe: atomic swap after successful parse.
func (d *Dialplan) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	contexts := make(map[string][]*Extension, len(cfg.Contexts))
	for _, ctx := range cfg.Contexts {
		if ctx.Name == "" {
			return fmt.Errorf("context with empty name")
		}
		for i, ext := range ctx.Extensions {
			if err := ext.Validate(); err != nil {
				return fmt.Errorf("context %s extension %d: %w", ctx.Name, i, err)
			}
		}
		contexts[ctx.Name] = ctx.Extensions
	}

	d.contexts.Store(&contexts)

	d.logger.Info("[Dialplan] Loaded contexts",
		"path", d.path,
		"count", len(contexts),
		"version", cfg.Version,
	)

	return nil
}

// Lookup finds the first extension in context matching the dialed digits.
// Thread-safe: uses atomic load for lock-free reads.
func (d *Dialplan) Lookup(context, digits string) (*Extension, bool) {
	contexts := d.contexts.Load()
	if contexts == nil {
		return nil, false
	}
	for _, ext := range (*contexts)[context] {
		if ext.Match(digits) {
			return ext, true
		}
	}
	return nil, false
}

// Exists reports whether any extension in context matches the dialed digits.
func (d *Dialplan) Exists(context, digits string) bool {
	_, ok := d.Lookup(context, digits)
	return ok
}

// ContextCount returns the number of loaded contexts.
func (d *Dialplan) ContextCount() int {
	contexts := d.contexts.Load()
	if contexts == nil {
		return 0
	}
	return len(*contexts)
}
