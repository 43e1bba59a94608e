package env

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekisa-team/pathflow/internal/envvar"
)

func TestParse(t *testing.T) {
	tests := map[string]Environment{
		"":           Development,
		"dev":        Development,
		"production": Production,
		" PROD ":     Production,
		"test":       Test,
		"staging":    Development,
	}

	for in, want := range tests {
		assert.Equal(t, want, Parse(in), "input %q", in)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(envvar.PathflowEnv, "production")
	assert.True(t, FromEnv().IsProduction())
}
