package model

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/xfs"
)

// Entry is one model directory known to the catalog.
// A model whose metadata does not validate is kept with Err set, so it can be
// listed and reported without being runnable.
type Entry struct {
	Name       string            `json:"name"`
	Dir        string            `json:"dir"`
	Metadata   map[string]string `json:"metadata"`
	Descriptor *Descriptor       `json:"descriptor,omitempty"`
	Err        error             `json:"-"`
}

// Valid reports whether the entry has a usable descriptor.
func (e *Entry) Valid() bool {
	return e.Err == nil && e.Descriptor != nil
}

// Catalog indexes the model directories found under a root folder.
type Catalog struct {
	root      string
	models    map[string]*Entry
	overrides map[string]map[string]string
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewCatalog creates an empty catalog rooted at dir.
func NewCatalog(root string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		root:   xfs.ExpandTilde(root),
		models: make(map[string]*Entry),
		logger: logger,
	}
}

// Root returns the catalog folder.
func (c *Catalog) Root() string {
	return c.root
}

// Load rescans the root folder. Models whose directory disappeared are dropped.
func (c *Catalog) Load() error {
	if err := xfs.EnsureDir(c.root); err != nil {
		return fmt.Errorf("failed to prepare models directory %s: %w", c.root, err)
	}

	names, err := xfs.ListDirs(c.root)
	if err != nil {
		return fmt.Errorf("failed to list models directory %s: %w", c.root, err)
	}

	loaded := make(map[string]*Entry, len(names))
	for _, name := range names {
		entry := c.load(name)
		loaded[name] = entry
	}

	c.mu.Lock()
	c.models = loaded
	c.mu.Unlock()

	c.logger.Info("Model catalog loaded", "root", c.root, "models", len(loaded))
	return nil
}

// Import adds one model directory to the catalog. Importing a name that is
// already present is a no-op.
func (c *Catalog) Import(name string) (*Entry, error) {
	c.mu.RLock()
	existing, ok := c.models[name]
	c.mu.RUnlock()
	if ok {
		return existing, nil
	}

	if !xfs.IsDir(filepath.Join(c.root, name)) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	entry := c.load(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.models[name]; ok {
		return existing, nil
	}
	c.models[name] = entry
	return entry, nil
}

func (c *Catalog) load(name string) *Entry {
	dir := filepath.Join(c.root, name)
	entry := &Entry{Name: name, Dir: dir}

	metadata, err := ReadMetadata(dir, name)
	if err != nil {
		entry.Err = err
		c.logger.Warn("Model metadata unreadable", "model", name, "error", err)
		return entry
	}
	entry.Metadata = metadata

	d, err := Validate(name, merge(metadata, c.overridesFor(name)))
	if err != nil {
		entry.Err = err
		c.logger.Warn("Model metadata invalid", "model", name, "error", err)
		return entry
	}
	entry.Descriptor = d

	c.logger.Debug("Model registered", "model", name, "problem", d.Problem, "resolution", d.Resolution)
	return entry
}

// Get returns the entry for name.
func (c *Catalog) Get(name string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.models[name]
	return e, ok
}

// Descriptor returns the validated descriptor for name.
func (c *Catalog) Descriptor(name string) (*Descriptor, error) {
	e, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Descriptor, nil
}

// List returns all entries sorted by name.
func (c *Catalog) List() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, 0, len(c.models))
	for _, e := range c.models {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetOverrides replaces the configured metadata overrides, keyed by model name.
// They apply from the next Load or Import on; Entry.Metadata keeps the values read from disk.
func (c *Catalog) SetOverrides(overrides map[string]map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.overrides = overrides
}

func (c *Catalog) overridesFor(name string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.overrides[name]
}

func merge(base map[string]string, layers ...map[string]string) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// Override re-validates a model with some metadata keys replaced. The stored
// entry is left untouched.
func (c *Catalog) Override(name string, overrides map[string]string) (*Descriptor, error) {
	e, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.Metadata == nil {
		return nil, e.Err
	}

	return Validate(name, merge(e.Metadata, c.overridesFor(name), overrides))
}

// Formats scans the model directory for artifact files named <name>.<format>.
// The scan runs on every call so files added after Load are seen.
func (c *Catalog) Formats(name string) (backend.FormatSet, error) {
	dir := filepath.Join(c.root, name)

	files, err := xfs.ListFiles(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to list model directory %s: %w", dir, err)
	}

	set := backend.NewFormatSet()
	prefix := name + "."
	for _, f := range files {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		switch ext := backend.Format(strings.TrimPrefix(f, prefix)); ext {
		case backend.FormatONNX, backend.FormatUFF, backend.FormatXML, backend.FormatPB:
			set[ext] = struct{}{}
		}
	}
	return set, nil
}

// ArtifactPath returns the path of the model file in format f.
func (c *Catalog) ArtifactPath(name string, f backend.Format) string {
	return filepath.Join(c.root, name, name+"."+string(f))
}

// Anchors reads <name>.anchors for detection models.
func (c *Catalog) Anchors(name string) (Anchors, error) {
	return ReadAnchors(filepath.Join(c.root, name, name+".anchors"))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
