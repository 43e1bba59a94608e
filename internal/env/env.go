package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/pathflow/internal/envvar"
)

// Environment is the deployment environment the process runs in.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

// FromEnv reads the environment from PATHFLOW_ENV, defaulting to development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.PathflowEnv))
}

// Parse maps a raw value to an Environment. Unknown values fall back to development.
func Parse(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return Production
	case "test":
		return Test
	default:
		return Development
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}
