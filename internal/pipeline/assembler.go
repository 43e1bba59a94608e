// Package pipeline turns a model and a slide into a runnable processing graph.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/model"
	"github.com/ekisa-team/pathflow/internal/network"
	"github.com/ekisa-team/pathflow/internal/process"
	"github.com/ekisa-team/pathflow/internal/render"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

// TissueProcess is the built-in pipeline that segments tissue from background
// without a network. Its output doubles as the tiling mask of later runs.
const TissueProcess = "tissue"

// Assembler builds one RunHandle per (model, slide) invocation.
type Assembler struct {
	backends        *backend.Registry
	catalog         *model.Catalog
	resolver        *backend.Resolver
	loader          network.Loader
	tissueThreshold int
	logger          *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger used for assembly diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithTissueThreshold sets the threshold of the built-in tissue pipeline.
func WithTissueThreshold(threshold int) Option {
	return func(a *Assembler) {
		a.tissueThreshold = threshold
	}
}

// AssembleOption adjusts a single Assemble call.
type AssembleOption func(*assembleConfig)

type assembleConfig struct {
	overrides map[string]string
}

// WithOverrides replaces metadata keys of the model for one run. The catalog
// entry is not modified.
func WithOverrides(overrides map[string]string) AssembleOption {
	return func(c *assembleConfig) {
		c.overrides = overrides
	}
}

// NewAssembler creates an assembler over explicitly constructed registries.
func NewAssembler(backends *backend.Registry, catalog *model.Catalog, loader network.Loader, opts ...Option) *Assembler {
	a := &Assembler{
		backends:        backends,
		catalog:         catalog,
		loader:          loader,
		tissueThreshold: process.DefaultTissueThreshold,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.resolver = backend.NewResolver(a.logger)
	return a
}

// Assemble builds the processing graph of model name for slide and registers its
// renderer on the slide under name. Nothing is registered when an error is returned.
// ErrAlreadyRegistered means the slide already carries this pipeline.
func (a *Assembler) Assemble(name string, slide *wsi.Slide, opts ...AssembleOption) (*RunHandle, error) {
	log := a.logger.With("model", name, "image", slide.UID)

	var ac assembleConfig
	for _, opt := range opts {
		opt(&ac)
	}

	if slide.HasRenderer(name) {
		log.Info("Pipeline already registered on image")
		return nil, ErrAlreadyRegistered
	}

	if name == TissueProcess {
		if len(ac.overrides) > 0 {
			log.Warn("Metadata overrides ignored by the tissue pipeline", "keys", len(ac.overrides))
		}
		return a.register(log, &build{name: name, slide: slide, logger: log}, a.tissuePlan(slide), nil)
	}

	desc, err := a.descriptor(log, name, ac.overrides)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	strat, ok := strategies[strategyKey{desc.Problem, desc.Resolution}]
	if !ok {
		return nil, fmt.Errorf("%w: %s models at %s resolution are not supported", ErrConfiguration, desc.Problem, desc.Resolution)
	}

	formats, err := a.catalog.Formats(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	sel, err := a.resolver.Resolve(name, desc.Preferences(), formats, a.backends.Available())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	cfg, err := network.Configure(sel, desc, a.catalog.ArtifactPath(name, sel.Format))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	b := &build{
		name:      name,
		desc:      desc,
		slide:     slide,
		selection: sel,
		network:   cfg,
		logger:    log.With("selection", sel.String()),
	}

	p, err := strat(a, b)
	if err != nil {
		return nil, err
	}

	net, err := a.loader.Load(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	return a.register(log, b, p, net)
}

func (a *Assembler) descriptor(log *slog.Logger, name string, overrides map[string]string) (*model.Descriptor, error) {
	if len(overrides) == 0 {
		return a.catalog.Descriptor(name)
	}
	log.Info("Applying metadata overrides", "keys", len(overrides))
	return a.catalog.Override(name, overrides)
}

func (a *Assembler) register(log *slog.Logger, b *build, p *plan, net network.Network) (*RunHandle, error) {
	if !b.slide.InsertRenderer(b.name, p.renderer) {
		if net != nil {
			net.Close()
		}
		log.Info("Pipeline already registered on image")
		return nil, ErrAlreadyRegistered
	}

	pyramid := render.NewImagePyramid()
	if err := pyramid.Connect(b.slide.Pyramid); err != nil {
		b.slide.RemoveRenderer(b.name, p.renderer)
		if net != nil {
			net.Close()
		}
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	log.Info("Pipeline assembled", "output", p.output, "renderer", p.renderer.Kind())
	return &RunHandle{
		Name:       b.name,
		Slide:      b.slide,
		Selection:  b.selection,
		Descriptor: b.desc,
		output:     p.output,
		renderer:   p.renderer,
		pyramid:    pyramid,
		net:        net,
		execute:    p.execute,
		logger:     log,
	}, nil
}
