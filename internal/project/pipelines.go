package project

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ekisa-team/pathflow/internal/xfs"
)

// PipelineExt is the extension of approved pipeline files, matched case-insensitively.
const PipelineExt = ".fpl"

// Pipeline is an approved pipeline file found in the pipelines folder.
type Pipeline struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Pipelines lists the approved pipeline files of the project, sorted by file
// name. The name is the file name up to its first dot.
func (p *Project) Pipelines() ([]Pipeline, error) {
	dir := filepath.Join(p.root, PipelinesDir)

	files, err := xfs.ListFiles(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pipelines: %w", err)
	}

	var out []Pipeline
	seen := make(map[string]bool)
	for _, f := range files {
		if !strings.EqualFold(filepath.Ext(f), PipelineExt) {
			continue
		}
		name, _, _ := strings.Cut(f, ".")
		if seen[name] {
			p.logger.Warn("Duplicate pipeline name, keeping the first file", "pipeline", name, "file", f)
			continue
		}
		seen[name] = true

		pl := Pipeline{Name: name, Path: filepath.Join(dir, f)}
		if err := readPipelineHeader(&pl); err != nil {
			p.logger.Warn("Pipeline header unreadable", "pipeline", name, "error", err)
		}
		out = append(out, pl)
	}
	return out, nil
}

// readPipelineHeader fills Title and Description from the PipelineName and
// PipelineDescription lines of a pipeline file.
func readPipelineHeader(pl *Pipeline) error {
	f, err := os.Open(pl.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		if !ok {
			continue
		}
		switch key {
		case "PipelineName":
			pl.Title = unquote(value)
		case "PipelineDescription":
			pl.Description = unquote(value)
		}
	}
	return sc.Err()
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s
}
