package main

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_Set(t *testing.T) {
	s := settings{}
	fset := flag.NewFlagSet("run", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	fset.Var(s, "set", "")

	require.NoError(t, fset.Parse([]string{"-set", "patch_overlap=0.25", "-set", " IE = OpenVINO ", "-set", "tissue_threshold="}))
	assert.Equal(t, settings{"patch_overlap": "0.25", "IE": "OpenVINO", "tissue_threshold": ""}, s)

	assert.Error(t, fset.Parse([]string{"-set", "novalue"}))
	assert.Error(t, fset.Parse([]string{"-set", "=1"}))
}
