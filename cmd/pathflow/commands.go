package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/ekisa-team/pathflow/internal/config"
	"github.com/ekisa-team/pathflow/internal/history"
	"github.com/ekisa-team/pathflow/internal/pipeline"
	"github.com/ekisa-team/pathflow/internal/project"
	"github.com/ekisa-team/pathflow/internal/results"
	grpcserver "github.com/ekisa-team/pathflow/internal/server/grpc"
	httpserver "github.com/ekisa-team/pathflow/internal/server/http"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

func table() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func runBackends(cfg *config.Config) error {
	backends, err := newBackends(cfg)
	if err != nil {
		return err
	}

	w := table()
	fmt.Fprintln(w, "NAME\tFAMILY\tFORMATS\tCPU")
	for _, b := range backends.List() {
		formats := make([]string, len(b.Formats))
		for i, f := range b.Formats {
			formats[i] = string(f)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", b.Name, b.Family, strings.Join(formats, ","), b.CPUCapable)
	}
	return w.Flush()
}

func runModels(cfg *config.Config) error {
	catalog, err := newCatalog(cfg)
	if err != nil {
		return err
	}

	w := table()
	fmt.Fprintln(w, "NAME\tPROBLEM\tRESOLUTION\tFORMATS\tSTATUS")
	for _, e := range catalog.List() {
		var formats []string
		if fs, err := catalog.Formats(e.Name); err == nil {
			for _, f := range fs.Sorted() {
				formats = append(formats, string(f))
			}
		}
		status := "ok"
		if e.Err != nil {
			status = e.Err.Error()
		}
		problem, resolution := "-", "-"
		if e.Descriptor != nil {
			problem, resolution = string(e.Descriptor.Problem), string(e.Descriptor.Resolution)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, problem, resolution, strings.Join(formats, ","), status)
	}
	return w.Flush()
}

// settings collects repeated -set key=value flags.
type settings map[string]string

func (s settings) String() string {
	pairs := make([]string, 0, len(s))
	for k, v := range s {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (s settings) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	s[key] = strings.TrimSpace(value)
	return nil
}

func runModel(ctx context.Context, cfg *config.Config, args []string) error {
	fset := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		flagImage = fset.String("image", "", "Image uid in the project, or a path to include")
		flagModel = fset.String("model", "", "Model name, or \"tissue\" for the built-in tissue segmentation")
		flagSet   = settings{}
	)
	fset.Var(flagSet, "set", "Override one model metadata key for this run (key=value, repeatable)")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *flagImage == "" || *flagModel == "" {
		fset.Usage()
		return errors.New("-image and -model are required")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	slide, err := a.project.Image(*flagImage)
	if err != nil {
		if slide, err = a.includeImage(*flagImage); err != nil {
			return err
		}
	}

	out := a.analysis.Run(ctx, *flagModel, slide, pipeline.WithOverrides(flagSet))
	fmt.Printf("run %s: %s", out.RunID, out.Status)
	if out.Err != nil {
		fmt.Printf(" (%s: %v)", out.Class, out.Err)
	}
	fmt.Println()
	for _, s := range out.Saved {
		fmt.Printf("  %s\t%s\n", s.Output, s.Path)
	}

	if out.Status == history.StatusFailed {
		return out.Err
	}
	return nil
}

func (a *app) includeImage(path string) (*wsi.Slide, error) {
	slide, err := a.project.IncludeImage(path)
	if err != nil {
		return nil, err
	}
	if err := a.project.Save(); err != nil {
		return nil, err
	}
	return slide, nil
}

func runResults(cfg *config.Config, args []string) error {
	fset := flag.NewFlagSet("results", flag.ExitOnError)
	flagImage := fset.String("image", "", "Image uid in the project")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *flagImage == "" {
		fset.Usage()
		return errors.New("-image is required")
	}

	store := results.NewStore(filepath.Join(cfg.Storage.ProjectDir, project.ResultsDir), slog.Default())
	report := store.Load(*flagImage)

	w := table()
	fmt.Fprintln(w, "PIPELINE\tOUTPUT\tRENDERER\tPATH")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Pipeline, r.Output, r.Renderer.Kind(), r.Path)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(w, "%s\t%s\terror\t%v\n", e.Pipeline, e.Output, e.Err)
	}
	return w.Flush()
}

func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	grpcSrv := grpcserver.NewServer(cfg.GRPCAddr(), a.catalog, a.logger)

	watcher, err := config.NewWatcher(configPath, a.logger, func(next *config.Config, err error) {
		if err != nil {
			return
		}
		a.catalog.SetOverrides(next.ModelOverrides())
		if err := a.catalog.Load(); err != nil {
			a.logger.Error("Failed to reload model catalog", "error", err)
			return
		}
		a.metrics.ModelsLoaded.Set(float64(countValid(a.catalog)))
		grpcSrv.Sync()
	})
	if err != nil {
		a.logger.Warn("Config hot reload disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	httpSrv := httpserver.NewServer(cfg.HTTPAddr(), httpserver.Deps{
		Project:  a.project,
		Catalog:  a.catalog,
		Backends: a.backends,
		Analysis: a.analysis,
		History:  a.history,
		Metrics:  a.metrics,
	}, a.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.Run(ctx) }()
	go func() { errCh <- grpcSrv.Run(ctx) }()

	// Either server stopping takes the other one down with it.
	err = <-errCh
	cancel()
	return errors.Join(err, <-errCh)
}
