package wsi

import (
	"sort"
	"sync"

	"github.com/ekisa-team/pathflow/internal/render"
)

// Slide is one image of a project together with the renderers attached to it,
// keyed by pipeline name.
type Slide struct {
	UID     string
	Path    string
	Pyramid Pyramid

	renderers map[string]render.Renderer
	mu        sync.Mutex
}

// NewSlide wraps a pyramid.
func NewSlide(uid, path string, pyramid Pyramid) *Slide {
	return &Slide{
		UID:       uid,
		Path:      path,
		Pyramid:   pyramid,
		renderers: make(map[string]render.Renderer),
	}
}

// InsertRenderer registers r under name. It returns false, leaving the set
// unchanged, when name is already taken.
func (s *Slide) InsertRenderer(name string, r render.Renderer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.renderers[name]; ok {
		return false
	}
	s.renderers[name] = r
	return true
}

// ReplaceRenderer registers r under name, replacing any previous renderer.
func (s *Slide) ReplaceRenderer(name string, r render.Renderer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.renderers[name] = r
}

// RemoveRenderer unregisters name. It only removes the renderer if it is still r,
// so a stale caller cannot drop a newer registration.
func (s *Slide) RemoveRenderer(name string, r render.Renderer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.renderers[name]; ok && cur == r {
		delete(s.renderers, name)
	}
}

// HasRenderer reports whether a renderer is registered under name.
func (s *Slide) HasRenderer(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.renderers[name]
	return ok
}

// Renderer returns the renderer registered under name.
func (s *Slide) Renderer(name string) (render.Renderer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.renderers[name]
	return r, ok
}

// RendererNames returns the registered names in sorted order.
func (s *Slide) RendererNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.renderers))
	for n := range s.renderers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
