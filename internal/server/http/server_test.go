package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/history"
	"github.com/ekisa-team/pathflow/internal/metrics"
	"github.com/ekisa-team/pathflow/internal/model"
	"github.com/ekisa-team/pathflow/internal/network"
	"github.com/ekisa-team/pathflow/internal/pipeline"
	"github.com/ekisa-team/pathflow/internal/project"
	"github.com/ekisa-team/pathflow/internal/service"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

type noLoader struct{}

func (noLoader) Load(network.Config) (network.Network, error) {
	return nil, network.ErrRuntimeUnavailable
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	libDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "libInferenceEngineOpenVINO.so"), nil, 0o644))
	backends := backend.NewRegistryFor(libDir, "linux")
	require.NoError(t, backends.Refresh())

	modelsRoot := t.TempDir()
	dir := filepath.Join(modelsRoot, "tumor")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	meta := model.FormatMetadata(map[string]string{
		model.KeyProblem:     "segmentation",
		model.KeyResolution:  "low",
		model.KeyInputWidth:  "32",
		model.KeyInputHeight: "32",
		model.KeyChannels:    "3",
		model.KeyClasses:     "2",
		model.KeyClassColors: "0,0,0;255,0,0",
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tumor.txt"), []byte(meta), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tumor.onnx"), nil, 0o644))
	catalog := model.NewCatalog(modelsRoot, nil)
	require.NoError(t, catalog.Load())

	opener := func(string) (wsi.Pyramid, error) {
		base := data.NewImage(128, 128, 3)
		for i := range base.Pix {
			base.Pix[i] = 40
		}
		return wsi.NewMemoryPyramid(base, 40), nil
	}
	proj, err := project.New(t.TempDir(), project.WithOpener(opener))
	require.NoError(t, err)

	h, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	m := metrics.New()
	asm := pipeline.NewAssembler(backends, catalog, noLoader{})
	analysis := service.NewAnalysis(asm, proj.Results(), service.WithHistory(h), service.WithMetrics(m))

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := NewServer(":0", Deps{
		Project:  proj,
		Catalog:  catalog,
		Backends: backends,
		Analysis: analysis,
		History:  h,
		Metrics:  m,
	}, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, "GET", ts.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got HealthResponseDTO
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, HealthResponseDTO{Status: "ok", Backends: 1, Models: 1}, got)
}

func TestServer_Backends(t *testing.T) {
	_, ts := newTestServer(t)

	_, body := do(t, "GET", ts.URL+"/backends", nil)
	var got []backend.Info
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, backend.OpenVINO, got[0].Name)
}

func TestServer_Models(t *testing.T) {
	_, ts := newTestServer(t)

	_, body := do(t, "GET", ts.URL+"/models", nil)
	var list []ModelDTO
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "tumor", list[0].Name)
	assert.True(t, list[0].Valid)
	assert.Equal(t, []backend.Format{backend.FormatONNX}, list[0].Formats)

	resp, body := do(t, "GET", ts.URL+"/models/tumor", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail ModelDetailDTO
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, "segmentation", detail.Metadata[model.KeyProblem])

	resp, _ = do(t, "GET", ts.URL+"/models/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ImagesAndRuns(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, "POST", ts.URL+"/images", IncludeImageRequestDTO{Path: "/slides/case.svs"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var img ImageDTO
	require.NoError(t, json.Unmarshal(body, &img))
	assert.Equal(t, "case", img.UID)

	resp, body = do(t, "POST", ts.URL+"/runs", RunRequestDTO{ImageUID: "case", Model: pipeline.TissueProcess})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var run RunResponseDTO
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, history.StatusSucceeded, run.Status)
	assert.Equal(t, 1, run.Saved)

	_, body = do(t, "GET", ts.URL+"/images/case/results", nil)
	var res ResultsDTO
	require.NoError(t, json.Unmarshal(body, &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, pipeline.TissueProcess, res.Results[0].Pipeline)
	assert.Equal(t, "SegmentationRenderer", res.Results[0].Renderer)
	assert.Empty(t, res.Errors)

	_, body = do(t, "GET", ts.URL+"/images", nil)
	var images []ImageDTO
	require.NoError(t, json.Unmarshal(body, &images))
	require.Len(t, images, 1)
	assert.Equal(t, []string{pipeline.TissueProcess}, images[0].Renderers)

	_, body = do(t, "GET", ts.URL+"/runs?image_uid=case", nil)
	var runs RunListDTO
	require.NoError(t, json.Unmarshal(body, &runs))
	assert.Equal(t, 1, runs.Total)

	resp, _ = do(t, "DELETE", ts.URL+"/images/case", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, "GET", ts.URL+"/images/case/results", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_RunErrors(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := do(t, "POST", ts.URL+"/runs", "not an object")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, "POST", ts.URL+"/runs", RunRequestDTO{ImageUID: "nope", Model: "tumor"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, "POST", ts.URL+"/images", IncludeImageRequestDTO{Path: "/slides/a.png"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, "POST", ts.URL+"/runs", RunRequestDTO{ImageUID: "a", Model: "tumor"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var run RunResponseDTO
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, "io", run.ErrorClass)
	assert.NotEmpty(t, run.Error)
}

func TestServer_Pipelines(t *testing.T) {
	srv, ts := newTestServer(t)

	resp, body := do(t, "GET", ts.URL+"/pipelines", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	dir := filepath.Join(srv.deps.Project.Root(), project.PipelinesDir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nuclei.fpl"), []byte("PipelineName \"Nuclei\"\n"), 0o644))

	resp, body = do(t, "GET", ts.URL+"/pipelines", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pipelines []project.Pipeline
	require.NoError(t, json.Unmarshal(body, &pipelines))
	require.Len(t, pipelines, 1)
	assert.Equal(t, "nuclei", pipelines[0].Name)
	assert.Equal(t, "Nuclei", pipelines[0].Title)
}

func TestServer_RunOverrides(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := do(t, "POST", ts.URL+"/images", IncludeImageRequestDTO{Path: "/slides/a.png"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// the override is validated before the network would be loaded
	resp, body := do(t, "POST", ts.URL+"/runs", RunRequestDTO{
		ImageUID:  "a",
		Model:     "tumor",
		Overrides: map[string]string{model.KeyResolution: "medium"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var run RunResponseDTO
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, "configuration", run.ErrorClass)
	assert.Contains(t, run.Error, model.KeyResolution)
}

func TestServer_Metrics(t *testing.T) {
	srv, ts := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := do(t, "GET", ts.URL+"/metrics", nil)
	assert.Contains(t, string(body), `pathflow_http_requests_total{method="GET",path="/health",status="200"} 1`)
}
