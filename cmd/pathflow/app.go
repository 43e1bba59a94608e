package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/config"
	"github.com/ekisa-team/pathflow/internal/history"
	"github.com/ekisa-team/pathflow/internal/metrics"
	"github.com/ekisa-team/pathflow/internal/model"
	"github.com/ekisa-team/pathflow/internal/network"
	"github.com/ekisa-team/pathflow/internal/pipeline"
	"github.com/ekisa-team/pathflow/internal/project"
	"github.com/ekisa-team/pathflow/internal/service"
	"github.com/ekisa-team/pathflow/internal/xfs"
)

// app wires the components every command shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	backends *backend.Registry
	catalog  *model.Catalog
	project  *project.Project
	history  *history.SQLiteStore
	metrics  *metrics.Metrics
	runtime  *network.ONNXRuntime
	analysis *service.Analysis
}

func newCatalog(cfg *config.Config) (*model.Catalog, error) {
	catalog := model.NewCatalog(cfg.Storage.ModelsDir, slog.Default())
	catalog.SetOverrides(cfg.ModelOverrides())
	if err := catalog.Load(); err != nil {
		return nil, err
	}
	return catalog, nil
}

func newBackends(cfg *config.Config) (*backend.Registry, error) {
	backends := backend.NewRegistry(cfg.Storage.LibraryDir)
	if err := backends.Refresh(); err != nil {
		return nil, fmt.Errorf("failed to discover backends: %w", err)
	}
	return backends, nil
}

func openProject(dir string) (*project.Project, error) {
	if _, err := os.Stat(filepath.Join(dir, project.ManifestFile)); errors.Is(err, os.ErrNotExist) {
		return project.New(dir, project.WithLogger(slog.Default()))
	}
	return project.Load(dir, project.WithLogger(slog.Default()))
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default(), metrics: metrics.New()}

	var err error
	if a.backends, err = newBackends(cfg); err != nil {
		return nil, err
	}
	if a.catalog, err = newCatalog(cfg); err != nil {
		return nil, err
	}
	if a.project, err = openProject(cfg.Storage.ProjectDir); err != nil {
		return nil, err
	}

	if err := xfs.EnsureDir(filepath.Dir(cfg.Storage.HistoryDB)); err != nil {
		return nil, err
	}
	if a.history, err = history.NewSQLiteStore(cfg.Storage.HistoryDB); err != nil {
		return nil, err
	}

	a.metrics.BackendsDiscovered.Set(float64(len(a.backends.Available())))
	a.metrics.ModelsLoaded.Set(float64(countValid(a.catalog)))

	a.runtime = network.NewONNXRuntime(cfg.Runtime.OnnxRuntimeLib, a.logger)
	asm := pipeline.NewAssembler(a.backends, a.catalog, a.runtime,
		pipeline.WithLogger(a.logger),
		pipeline.WithTissueThreshold(cfg.Runtime.TissueThreshold),
	)
	a.analysis = service.NewAnalysis(asm, a.project.Results(),
		service.WithLogger(a.logger),
		service.WithHistory(a.history),
		service.WithMetrics(a.metrics),
	)
	return a, nil
}

func countValid(c *model.Catalog) int {
	n := 0
	for _, e := range c.List() {
		if e.Valid() {
			n++
		}
	}
	return n
}

func (a *app) Close() error {
	a.analysis.Wait()
	return errors.Join(a.runtime.Close(), a.history.Close())
}
