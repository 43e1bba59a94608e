// Package config loads, validates and watches the pathflow configuration file.
package config

import (
	"fmt"
	"strings"
)

// Config holds the main configuration for the application.
type Config struct {
	Version string                       `json:"version"           yaml:"version"`
	Storage StorageConfig                `json:"storage,omitempty" yaml:"storage,omitempty"`
	Runtime RuntimeConfig                `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Server  ServerConfig                 `json:"server,omitempty"  yaml:"server,omitempty"`
	Log     LogConfig                    `json:"log,omitempty"     yaml:"log,omitempty"`
	Models  map[string]map[string]string `json:"models,omitempty"  yaml:"models,omitempty"`
}

// StorageConfig holds the folders and files the orchestrator reads and writes.
type StorageConfig struct {
	ModelsDir  string `json:"models_dir,omitempty"  yaml:"models_dir,omitempty"`
	LibraryDir string `json:"library_dir,omitempty" yaml:"library_dir,omitempty"`
	ProjectDir string `json:"project_dir,omitempty" yaml:"project_dir,omitempty"`
	HistoryDB  string `json:"history_db,omitempty"  yaml:"history_db,omitempty"`
}

// RuntimeConfig holds inference settings.
type RuntimeConfig struct {
	OnnxRuntimeLib  string `json:"onnxruntime_lib,omitempty"  yaml:"onnxruntime_lib,omitempty"`
	TissueThreshold int    `json:"tissue_threshold,omitempty" yaml:"tissue_threshold,omitempty"`
}

// ServerConfig holds the listening ports. Zero selects the default port.
type ServerConfig struct {
	HTTPPort int `json:"http_port,omitempty" yaml:"http_port,omitempty"`
	GRPCPort int `json:"grpc_port,omitempty" yaml:"grpc_port,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level,omitempty"   yaml:"level,omitempty"`
	ToFile bool   `json:"to_file,omitempty" yaml:"to_file,omitempty"`
	File   string `json:"file,omitempty"    yaml:"file,omitempty"`
}

// HTTPAddr returns the listen address of the HTTP API.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Server.HTTPPort)
}

// GRPCAddr returns the listen address of the gRPC server.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.Server.GRPCPort)
}

// ModelOverrides returns the metadata overrides per model, with keys trimmed.
func (c *Config) ModelOverrides() map[string]map[string]string {
	out := make(map[string]map[string]string, len(c.Models))
	for name, kv := range c.Models {
		m := make(map[string]string, len(kv))
		for k, v := range kv {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		out[name] = m
	}
	return out
}
