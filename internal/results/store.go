// Package results persists pipeline outputs per image and rebuilds their
// renderers from disk without running inference again.
package results

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/render"
	"github.com/ekisa-team/pathflow/internal/xfs"
)

// AttributesFile holds the display attributes of a result set.
const AttributesFile = "attributes.txt"

// Store reads and writes <root>/<image>/<pipeline>/<output>/.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates a store rooted at a project's results folder.
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}
}

// Root returns the results folder.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory of one result set.
func (s *Store) Dir(imageUID, pipeline, output string) string {
	return filepath.Join(s.root, imageUID, pipeline, output)
}

// Saved describes one written result set.
type Saved struct {
	Output string    `json:"output"`
	Kind   data.Kind `json:"kind"`
	Path   string    `json:"path"`
}

// Save writes every persistable output of a pipeline together with the display
// attributes of its renderers. The pipeline folder is staged and swapped in
// whole, so a failed save leaves the previous results untouched. Outputs without
// an on-disk container are skipped with a warning.
func (s *Store) Save(imageUID, pipeline string, outputs map[string]data.Object, renderers []render.Renderer) ([]Saved, error) {
	log := s.logger.With("image", imageUID, "pipeline", pipeline)

	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var saved []Saved
	var persistable []string
	for _, name := range names {
		obj := outputs[name]
		if obj == nil {
			continue
		}
		if _, ok := extension(obj.Kind()); !ok {
			log.Warn("Output kind cannot be saved, skipping", "output", name, "kind", obj.Kind())
			continue
		}
		persistable = append(persistable, name)
	}
	if len(persistable) == 0 {
		return nil, nil
	}

	dst := filepath.Join(s.root, imageUID, pipeline)
	err := xfs.ReplaceDir(dst, func(dir string) error {
		for _, name := range persistable {
			obj := outputs[name]
			ext, _ := extension(obj.Kind())

			outDir := filepath.Join(dir, name)
			if err := xfs.EnsureDir(outDir); err != nil {
				return err
			}
			if err := writePayload(filepath.Join(outDir, name+ext), obj); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			attributes := render.FormatAttributes(displaying(renderers, obj))
			if err := os.WriteFile(filepath.Join(outDir, AttributesFile), []byte(attributes), 0o644); err != nil {
				return fmt.Errorf("write %s attributes: %w", name, err)
			}

			saved = append(saved, Saved{
				Output: name,
				Kind:   obj.Kind(),
				Path:   filepath.Join(dst, name, name+ext),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save results of %s for %s: %w", pipeline, imageUID, err)
	}

	log.Info("Results saved", "outputs", len(saved))
	return saved, nil
}

// displaying returns the renderers connected to obj, or all of them when none is.
func displaying(renderers []render.Renderer, obj data.Object) []render.Renderer {
	var out []render.Renderer
	for _, r := range renderers {
		if r != nil && r.Input() == obj {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return renderers
	}
	return out
}

// Result is one result set rebuilt from disk.
type Result struct {
	Pipeline string          `json:"pipeline"`
	Output   string          `json:"output"`
	Path     string          `json:"path"`
	Renderer render.Renderer `json:"-"`
}

// LoadError records a result set that could not be restored.
type LoadError struct {
	Pipeline string
	Output   string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Pipeline, e.Output, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadReport lists restored result sets and the ones that failed. A failing set
// never prevents its siblings from loading.
type LoadReport struct {
	Results []Result
	Errors  []*LoadError
}

// Err joins every per-set failure, or returns nil.
func (r LoadReport) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Load rebuilds a renderer for every result set stored for imageUID.
// An image without results yields an empty report.
func (s *Store) Load(imageUID string) LoadReport {
	var report LoadReport

	imageDir := filepath.Join(s.root, imageUID)
	pipelines, err := xfs.ListDirs(imageDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			report.Errors = append(report.Errors, &LoadError{Err: err})
		}
		return report
	}

	for _, pipeline := range pipelines {
		outputs, err := xfs.ListDirs(filepath.Join(imageDir, pipeline))
		if err != nil {
			report.Errors = append(report.Errors, &LoadError{Pipeline: pipeline, Err: err})
			continue
		}

		for _, output := range outputs {
			dir := filepath.Join(imageDir, pipeline, output)
			r, path, err := s.loadSet(dir)
			if err != nil {
				s.logger.Warn("Result set could not be loaded",
					"image", imageUID, "pipeline", pipeline, "output", output, "error", err)
				report.Errors = append(report.Errors, &LoadError{Pipeline: pipeline, Output: output, Err: err})
				continue
			}
			report.Results = append(report.Results, Result{Pipeline: pipeline, Output: output, Path: path, Renderer: r})
		}
	}

	s.logger.Debug("Results loaded", "image", imageUID, "loaded", len(report.Results), "failed", len(report.Errors))
	return report
}

func (s *Store) loadSet(dir string) (render.Renderer, string, error) {
	path, kind, err := findPayload(dir)
	if err != nil {
		return nil, "", err
	}

	obj, err := readPayload(path)
	if err != nil {
		return nil, "", err
	}

	r, err := render.New(kind)
	if err != nil {
		return nil, "", err
	}
	if err := r.Connect(obj); err != nil {
		return nil, "", err
	}

	if err := s.replayAttributes(filepath.Join(dir, AttributesFile), r); err != nil {
		return nil, "", err
	}
	return r, path, nil
}

// findPayload picks the payload file and the renderer kind its extension maps to.
func findPayload(dir string) (string, render.Kind, error) {
	files, err := xfs.ListFiles(dir)
	if err != nil {
		return "", "", err
	}

	for _, f := range files {
		switch filepath.Ext(f) {
		case ExtPyramid, ExtImage:
			return filepath.Join(dir, f), render.KindSegmentation, nil
		case ExtTensor:
			return filepath.Join(dir, f), render.KindHeatmap, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrNoPayload, dir)
}

// replayAttributes applies "Attribute <name> <values...>" lines in file order.
// Reading stops at the first line that is not an attribute. Attributes the
// renderer does not know are skipped; anything else malformed fails the set.
func (s *Store) replayAttributes(path string, r render.Renderer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttributesMissing, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		tokens := strings.Fields(sc.Text())
		if len(tokens) == 0 || tokens[0] != "Attribute" {
			break
		}
		if len(tokens) < 3 {
			return fmt.Errorf("%w: line %d: %q", ErrMalformedAttribute, lineNo, sc.Text())
		}

		err := r.SetAttribute(tokens[1], tokens[2:])
		if errors.Is(err, render.ErrUnknownAttribute) {
			s.logger.Debug("Attribute not used by renderer", "attribute", tokens[1], "renderer", r.Kind())
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrMalformedAttribute, lineNo, err)
		}
	}
	return sc.Err()
}

// Remove deletes every result of an image.
func (s *Store) Remove(imageUID string) error {
	return os.RemoveAll(filepath.Join(s.root, imageUID))
}
