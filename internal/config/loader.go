package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"

	"github.com/ekisa-team/pathflow/internal/envvar"
	"github.com/ekisa-team/pathflow/internal/xfs"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("pathflow-config.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// Load reads, validates and completes the configuration at path. A missing
// file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.applyEnv()
		cfg.expand()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.expand()
	return cfg, nil
}

// Parse validates YAML config data against the embedded schema and fills defaults.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	if err := s.Validate(raw); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into Config struct: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envvar.PathflowModelsPath); v != "" {
		c.Storage.ModelsDir = v
	}
	if v := os.Getenv(envvar.PathflowLibraryPath); v != "" {
		c.Storage.LibraryDir = v
	}
	if v := os.Getenv(envvar.PathflowProjectPath); v != "" {
		c.Storage.ProjectDir = v
	}
	if v := os.Getenv(envvar.PathflowOnnxRuntimeLib); v != "" {
		c.Runtime.OnnxRuntimeLib = v
	}
	if v := os.Getenv(envvar.PathflowLogLevel); v != "" {
		c.Log.Level = v
	}
	if p, err := strconv.Atoi(os.Getenv(envvar.PathflowServerHTTPPort)); err == nil && p > 0 {
		c.Server.HTTPPort = p
	}
	if p, err := strconv.Atoi(os.Getenv(envvar.PathflowServerGRPCPort)); err == nil && p > 0 {
		c.Server.GRPCPort = p
	}
}

func (c *Config) expand() {
	c.Storage.ModelsDir = xfs.ExpandTilde(c.Storage.ModelsDir)
	c.Storage.LibraryDir = xfs.ExpandTilde(c.Storage.LibraryDir)
	c.Storage.ProjectDir = xfs.ExpandTilde(c.Storage.ProjectDir)
	c.Storage.HistoryDB = xfs.ExpandTilde(c.Storage.HistoryDB)
	c.Runtime.OnnxRuntimeLib = xfs.ExpandTilde(c.Runtime.OnnxRuntimeLib)
	c.Log.File = xfs.ExpandTilde(c.Log.File)
}
