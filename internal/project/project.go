// Package project manages a project folder: the images it includes, their
// thumbnails and the results stored for them.
package project

import (
	"bufio"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nfnt/resize"

	"github.com/ekisa-team/pathflow/internal/results"
	"github.com/ekisa-team/pathflow/internal/wsi"
	"github.com/ekisa-team/pathflow/internal/xfs"
)

// Layout of a project root.
const (
	ManifestFile  = "project.txt"
	PipelinesDir  = "pipelines"
	ResultsDir    = "results"
	ThumbnailsDir = "thumbnails"
	ThumbnailSize = 256
)

// DefaultMagnification is assumed for images whose reader reports none.
const DefaultMagnification = 40

// Opener opens the pyramid of an image file.
type Opener func(path string) (wsi.Pyramid, error)

// Project is a set of slides rooted in one folder.
type Project struct {
	root      string
	temporary bool
	store     *results.Store
	open      Opener
	logger    *slog.Logger

	slides map[string]*wsi.Slide
	order  []string
	mu     sync.RWMutex
}

// Option configures a Project.
type Option func(*Project)

// WithLogger sets the logger for project diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Project) {
		p.logger = logger
	}
}

// WithOpener replaces how image files are opened.
func WithOpener(open Opener) Option {
	return func(p *Project) {
		p.open = open
	}
}

// New creates the folder layout under root and returns an empty project.
func New(root string, opts ...Option) (*Project, error) {
	root = xfs.ExpandTilde(root)
	for _, dir := range []string{PipelinesDir, ResultsDir, ThumbnailsDir} {
		if err := xfs.EnsureDir(filepath.Join(root, dir)); err != nil {
			return nil, fmt.Errorf("failed to create project folder %s: %w", dir, err)
		}
	}

	p := &Project{
		root:   root,
		logger: slog.Default(),
		open: func(path string) (wsi.Pyramid, error) {
			return wsi.Open(path, DefaultMagnification)
		},
		slides: make(map[string]*wsi.Slide),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.store = results.NewStore(filepath.Join(root, ResultsDir), p.logger)
	return p, nil
}

// NewTemporary creates a project in a fresh folder under the OS temp dir.
func NewTemporary(opts ...Option) (*Project, error) {
	root, err := os.MkdirTemp("", "pathflow-project-")
	if err != nil {
		return nil, err
	}
	p, err := New(root, opts...)
	if err != nil {
		return nil, err
	}
	p.temporary = true
	return p, nil
}

// Root returns the project folder.
func (p *Project) Root() string { return p.root }

// Temporary reports whether the project lives in the system temp dir.
func (p *Project) Temporary() bool { return p.temporary }

// Results returns the store backing the project's results folder.
func (p *Project) Results() *results.Store { return p.store }

// IncludeImage opens path and adds it under a uid derived from the file stem.
// A taken uid gets the first free "#<n>" suffix, starting at 2.
func (p *Project) IncludeImage(path string) (*wsi.Slide, error) {
	abs, err := filepath.Abs(xfs.ExpandTilde(path))
	if err != nil {
		return nil, err
	}

	pyr, err := p.open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", abs, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	uid := p.freeUID(stem(abs))
	return p.add(uid, abs, pyr), nil
}

func (p *Project) add(uid, path string, pyr wsi.Pyramid) *wsi.Slide {
	s := wsi.NewSlide(uid, path, pyr)
	p.slides[uid] = s
	p.order = append(p.order, uid)
	p.logger.Info("Image included", "uid", uid, "path", path)
	return s
}

func (p *Project) freeUID(base string) string {
	if _, taken := p.slides[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		uid := fmt.Sprintf("%s#%d", base, n)
		if _, taken := p.slides[uid]; !taken {
			return uid
		}
	}
}

func stem(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	// uids are the first field of a manifest line
	return strings.ReplaceAll(name, ",", "_")
}

// Images returns the slides in inclusion order.
func (p *Project) Images() []*wsi.Slide {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*wsi.Slide, 0, len(p.order))
	for _, uid := range p.order {
		out = append(out, p.slides[uid])
	}
	return out
}

// Image returns the slide included under uid, or ErrImageNotFound.
func (p *Project) Image(uid string) (*wsi.Slide, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.slides[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, uid)
	}
	return s, nil
}

// RemoveImage drops an image together with its results and thumbnail.
func (p *Project) RemoveImage(uid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.slides[uid]; !ok {
		return fmt.Errorf("%w: %s", ErrImageNotFound, uid)
	}
	delete(p.slides, uid)
	for i, u := range p.order {
		if u == uid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}

	if err := p.store.Remove(uid); err != nil {
		return err
	}
	if err := os.Remove(p.thumbnailPath(uid)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (p *Project) thumbnailPath(uid string) string {
	return filepath.Join(p.root, ThumbnailsDir, uid+".png")
}

// Save writes the manifest and a thumbnail for every image that lacks one.
func (p *Project) Save() error {
	images := p.Images()

	var b strings.Builder
	for _, s := range images {
		fmt.Fprintf(&b, "%s,%s\n", s.UID, s.Path)
	}

	manifest := filepath.Join(p.root, ManifestFile)
	tmp := manifest + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	for _, s := range images {
		path := p.thumbnailPath(s.UID)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := writeThumbnail(path, s.Pyramid); err != nil {
			p.logger.Warn("Thumbnail could not be written", "uid", s.UID, "error", err)
		}
	}

	p.logger.Info("Project saved", "root", p.root, "images", len(images))
	return nil
}

func writeThumbnail(path string, pyr wsi.Pyramid) error {
	level, err := pyr.LevelImage(pyr.LevelCount() - 1)
	if err != nil {
		return err
	}
	thumb := resize.Thumbnail(ThumbnailSize, ThumbnailSize, level.ToImage(), resize.Bilinear)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, thumb); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load opens the project at root. Images whose file cannot be opened are
// skipped; results that fail to load are logged and do not stop the others.
func Load(root string, opts ...Option) (*Project, error) {
	p, err := New(root, opts...)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(p.root, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		uid, path, ok := strings.Cut(line, ",")
		if !ok || uid == "" || path == "" {
			return nil, fmt.Errorf("%w: line %d: %q", ErrManifest, lineNo, line)
		}

		pyr, err := p.open(path)
		if err != nil {
			p.logger.Warn("Image could not be opened, skipping", "uid", uid, "path", path, "error", err)
			continue
		}

		p.mu.Lock()
		s := p.add(uid, path, pyr)
		p.mu.Unlock()

		p.restoreResults(s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// restoreResults attaches every stored result of s as a renderer named after
// its pipeline, or "<pipeline>/<output>" when the pipeline has several outputs.
func (p *Project) restoreResults(s *wsi.Slide) {
	report := p.store.Load(s.UID)
	for _, e := range report.Errors {
		p.logger.Warn("Result could not be restored", "uid", s.UID, "error", e)
	}
	for _, r := range report.Results {
		if s.InsertRenderer(r.Pipeline, r.Renderer) {
			continue
		}
		s.InsertRenderer(r.Pipeline+"/"+r.Output, r.Renderer)
	}
}
