package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject_Pipelines(t *testing.T) {
	p, err := New(t.TempDir())
	require.NoError(t, err)

	list, err := p.Pipelines()
	require.NoError(t, err)
	assert.Empty(t, list)

	dir := filepath.Join(p.Root(), PipelinesDir)
	files := map[string]string{
		"nuclei.fpl":     "PipelineName \"Nuclei segmentation\"\nPipelineDescription \"Segments nuclei at 20x\"\n\nProcessObject importer WholeSlideImageImporter\n",
		"grading.v2.FPL": "PipelineName Grading\n",
		"nuclei.old.fpl": "PipelineName \"Shadowed\"\n",
		"notes.txt":      "not a pipeline",
		".hidden.fpl":    "PipelineName Hidden\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	list, err = p.Pipelines()
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "grading", list[0].Name)
	assert.Equal(t, "Grading", list[0].Title)
	assert.Empty(t, list[0].Description)

	assert.Equal(t, "nuclei", list[1].Name)
	assert.Equal(t, filepath.Join(dir, "nuclei.fpl"), list[1].Path)
	assert.Equal(t, "Nuclei segmentation", list[1].Title)
	assert.Equal(t, "Segments nuclei at 20x", list[1].Description)
}
