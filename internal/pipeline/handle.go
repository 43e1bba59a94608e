package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/model"
	"github.com/ekisa-team/pathflow/internal/network"
	"github.com/ekisa-team/pathflow/internal/render"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

type handleState int

const (
	statePending handleState = iota
	stateRunning
	stateDone
	stateFailed
	stateClosed
)

// RunHandle owns one assembled graph. Its renderer is registered on the slide
// from assembly on; it stays registered only if Run completes.
type RunHandle struct {
	Name       string
	Slide      *wsi.Slide
	Selection  backend.Selection
	Descriptor *model.Descriptor

	output   string
	renderer render.Renderer
	pyramid  render.Renderer
	net      network.Network
	execute  func(ctx context.Context, net network.Network) (data.Object, error)
	logger   *slog.Logger

	state handleState
	mu    sync.Mutex
}

// Renderer returns the result renderer registered under Name.
func (h *RunHandle) Renderer() render.Renderer {
	return h.renderer
}

// Renderers returns every renderer of the pipeline, image pyramid first.
func (h *RunHandle) Renderers() []render.Renderer {
	return []render.Renderer{h.pyramid, h.renderer}
}

// Run executes the graph and, on success only, connects the output to the
// renderer. On failure the renderer is unregistered so the slide is left as it
// was before assembly.
func (h *RunHandle) Run(ctx context.Context) (map[string]data.Object, error) {
	h.mu.Lock()
	if h.state != statePending {
		h.mu.Unlock()
		return nil, ErrHandleUsed
	}
	h.state = stateRunning
	h.mu.Unlock()

	obj, err := h.safeExecute(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil && h.state == stateClosed {
		err = ErrAbandoned
	}
	if err == nil {
		err = h.renderer.Connect(obj)
	}
	if err != nil {
		h.Slide.RemoveRenderer(h.Name, h.renderer)
		if h.state != stateClosed {
			h.state = stateFailed
		}
		return nil, err
	}
	h.state = stateDone

	h.logger.Info("Pipeline finished", "output", h.output, "kind", obj.Kind())
	return map[string]data.Object{h.output: obj}, nil
}

func (h *RunHandle) safeExecute(ctx context.Context) (obj data.Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline %s panicked: %v", h.Name, r)
		}
	}()
	return h.execute(ctx, h.net)
}

// Close releases the network. A handle closed before Run finishes unregisters
// its renderer without ever feeding it.
func (h *RunHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateClosed {
		return nil
	}
	if h.state == statePending {
		h.Slide.RemoveRenderer(h.Name, h.renderer)
		h.logger.Info("Pipeline abandoned")
	}
	h.state = stateClosed

	if h.net != nil {
		return h.net.Close()
	}
	return nil
}
