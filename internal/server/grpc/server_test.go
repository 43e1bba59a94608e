package grpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ekisa-team/pathflow/internal/model"
)

func writeModel(t *testing.T, root, name, meta string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".txt"), []byte(meta), 0o644))
}

func status(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_Sync(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "good", "problem=classification\nresolution=high\ninput_img_size_x=64\ninput_img_size_y=64\n"+
		"nb_channels=3\nnb_classes=2\nclass_colors=0,0,0;255,0,0\n")
	writeModel(t, root, "bad", "problem=unknown\n")

	catalog := model.NewCatalog(root, nil)
	require.NoError(t, catalog.Load())

	s := NewServer(":0", catalog, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, ModelServicePrefix+"good"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, ModelServicePrefix+"bad"))

	require.NoError(t, os.RemoveAll(filepath.Join(root, "bad")))
	require.NoError(t, catalog.Load())
	s.Sync()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, status(t, s, ModelServicePrefix+"bad"))
}

func TestServer_UnknownService(t *testing.T) {
	s := NewServer(":0", model.NewCatalog(t.TempDir(), nil), nil)

	_, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ModelServicePrefix + "nope"})
	assert.Error(t, err)
}
