package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/history"
	"github.com/ekisa-team/pathflow/internal/model"
	"github.com/ekisa-team/pathflow/internal/pipeline"
	"github.com/ekisa-team/pathflow/internal/project"
	"github.com/ekisa-team/pathflow/internal/render"
)

type (
	HealthResponseDTO struct {
		Status   string `json:"status"`
		Backends int    `json:"backends"`
		Models   int    `json:"models"`
		Images   int    `json:"images"`
	}

	ModelDTO struct {
		Name       string           `json:"name"`
		Valid      bool             `json:"valid"`
		Problem    model.Problem    `json:"problem,omitempty"`
		Resolution model.Resolution `json:"resolution,omitempty"`
		Formats    []backend.Format `json:"formats"`
		Error      string           `json:"error,omitempty"`
	}

	ModelDetailDTO struct {
		ModelDTO
		Metadata map[string]string `json:"metadata"`
	}
)

type (
	RunRequestDTO struct {
		ImageUID  string            `json:"image_uid"`
		Model     string            `json:"model"`
		Async     bool              `json:"async,omitempty"`
		Overrides map[string]string `json:"overrides,omitempty"`
	}

	RunResponseDTO struct {
		RunID      string `json:"run_id,omitempty"`
		Model      string `json:"model"`
		ImageUID   string `json:"image_uid"`
		Status     string `json:"status"`
		ErrorClass string `json:"error_class,omitempty"`
		Error      string `json:"error,omitempty"`
		Saved      int    `json:"saved"`
		DurationMS int64  `json:"duration_ms"`
	}

	RunListDTO struct {
		Runs  []*history.Run `json:"runs"`
		Total int            `json:"total"`
	}
)

type (
	ImageDTO struct {
		UID       string   `json:"uid"`
		Path      string   `json:"path"`
		Renderers []string `json:"renderers"`
	}

	IncludeImageRequestDTO struct {
		Path string `json:"path"`
	}

	ResultDTO struct {
		Pipeline   string   `json:"pipeline"`
		Output     string   `json:"output"`
		Path       string   `json:"path"`
		Renderer   string   `json:"renderer"`
		Attributes []string `json:"attributes"`
	}

	ResultErrorDTO struct {
		Pipeline string `json:"pipeline"`
		Output   string `json:"output"`
		Error    string `json:"error"`
	}

	ResultsDTO struct {
		Results []ResultDTO      `json:"results"`
		Errors  []ResultErrorDTO `json:"errors"`
	}
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponseDTO{Status: "ok"}
	if s.deps.Backends != nil {
		resp.Backends = len(s.deps.Backends.Available())
	}
	if s.deps.Catalog != nil {
		resp.Models = len(s.deps.Catalog.List())
	}
	if s.deps.Project != nil {
		resp.Images = len(s.deps.Project.Images())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Backends.List())
}

func (s *Server) modelDTO(e *model.Entry) ModelDTO {
	dto := ModelDTO{Name: e.Name, Valid: e.Valid(), Formats: []backend.Format{}}
	if e.Descriptor != nil {
		dto.Problem = e.Descriptor.Problem
		dto.Resolution = e.Descriptor.Resolution
	}
	if e.Err != nil {
		dto.Error = e.Err.Error()
	}
	if formats, err := s.deps.Catalog.Formats(e.Name); err == nil {
		dto.Formats = formats.Sorted()
	}
	return dto
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	entries := s.deps.Catalog.List()
	out := make([]ModelDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.modelDTO(e))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	e, ok := s.deps.Catalog.Get(chi.URLParam(r, "name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "model not found")
		return
	}
	s.writeJSON(w, http.StatusOK, ModelDetailDTO{ModelDTO: s.modelDTO(e), Metadata: e.Metadata})
}

func (s *Server) handleReloadModels(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Catalog.Load(); err != nil {
		s.logger.Error("Model catalog reload failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to reload models")
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ModelsLoaded.Set(float64(countValid(s.deps.Catalog.List())))
	}
	s.handleListModels(w, nil)
}

func countValid(entries []*model.Entry) int {
	n := 0
	for _, e := range entries {
		if e.Valid() {
			n++
		}
	}
	return n
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequestDTO
	if !s.decode(w, r, &req) {
		return
	}
	if req.ImageUID == "" || req.Model == "" {
		s.writeError(w, http.StatusBadRequest, "image_uid and model are required")
		return
	}

	slide, err := s.deps.Project.Image(req.ImageUID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}

	override := pipeline.WithOverrides(req.Overrides)

	if req.Async {
		// detached from the request so the run outlives the response
		s.deps.Analysis.RunAsync(context.WithoutCancel(r.Context()), req.Model, slide, override)
		s.writeJSON(w, http.StatusAccepted, RunResponseDTO{Model: req.Model, ImageUID: req.ImageUID, Status: "accepted"})
		return
	}

	out := s.deps.Analysis.Run(r.Context(), req.Model, slide, override)
	resp := RunResponseDTO{
		RunID:      out.RunID,
		Model:      out.Model,
		ImageUID:   out.ImageUID,
		Status:     out.Status,
		ErrorClass: out.Class,
		Saved:      len(out.Saved),
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}

	status := http.StatusOK
	if out.Status == history.StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	q := r.URL.Query()
	f := history.Filter{ImageUID: q.Get("image_uid"), Model: q.Get("model")}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		f.Offset = v
	}

	runs, total, err := s.deps.History.List(r.Context(), f)
	if err != nil {
		s.logger.Error("Run history query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	s.writeJSON(w, http.StatusOK, RunListDTO{Runs: runs, Total: total})
}

func (s *Server) handleListImages(w http.ResponseWriter, _ *http.Request) {
	slides := s.deps.Project.Images()
	out := make([]ImageDTO, 0, len(slides))
	for _, sl := range slides {
		out = append(out, ImageDTO{UID: sl.UID, Path: sl.Path, Renderers: sl.RendererNames()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, _ *http.Request) {
	pipelines, err := s.deps.Project.Pipelines()
	if err != nil {
		s.logger.Error("Failed to list pipelines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list pipelines")
		return
	}
	if pipelines == nil {
		pipelines = []project.Pipeline{}
	}
	s.writeJSON(w, http.StatusOK, pipelines)
}

func (s *Server) handleIncludeImage(w http.ResponseWriter, r *http.Request) {
	var req IncludeImageRequestDTO
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	sl, err := s.deps.Project.IncludeImage(req.Path)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.deps.Project.Save(); err != nil {
		s.logger.Error("Project could not be saved", "error", err)
	}
	s.writeJSON(w, http.StatusCreated, ImageDTO{UID: sl.UID, Path: sl.Path, Renderers: sl.RendererNames()})
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Project.RemoveImage(chi.URLParam(r, "uid"))
	if errors.Is(err, project.ErrImageNotFound) {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.deps.Project.Save(); err != nil {
		s.logger.Error("Project could not be saved", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if _, err := s.deps.Project.Image(uid); err != nil {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}

	report := s.deps.Project.Results().Load(uid)
	out := ResultsDTO{Results: []ResultDTO{}, Errors: []ResultErrorDTO{}}
	for _, res := range report.Results {
		out.Results = append(out.Results, ResultDTO{
			Pipeline:   res.Pipeline,
			Output:     res.Output,
			Path:       res.Path,
			Renderer:   string(res.Renderer.Kind()),
			Attributes: attributeLines(res.Renderer),
		})
	}
	for _, e := range report.Errors {
		out.Errors = append(out.Errors, ResultErrorDTO{Pipeline: e.Pipeline, Output: e.Output, Error: e.Err.Error()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func attributeLines(r render.Renderer) []string {
	attrs := r.Attributes()
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.String()
	}
	return out
}
