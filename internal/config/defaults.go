package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Default values applied to fields left empty in the file.
const (
	DefaultHTTPPort        = 8420
	DefaultGRPCPort        = 8421
	DefaultTissueThreshold = 85
	DefaultLogLevel        = "info"
)

// DefaultConfigPath returns the default path for the pathflow config directory.
func DefaultConfigPath() string {
	return defaultConfigPath(runtime.GOOS)
}

func defaultConfigPath(goos string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "pathflow", "config")
	}

	switch goos {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "pathflow")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "pathflow")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "pathflow")
		}
		return filepath.Join(home, ".config", "pathflow")
	}
}

// DefaultDataPath returns the default root for models, projects and the run history.
func DefaultDataPath() string {
	return defaultDataPath(runtime.GOOS)
}

func defaultDataPath(goos string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "pathflow", "data")
	}

	switch goos {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "pathflow")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "pathflow", "data")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "pathflow")
		}
		return filepath.Join(home, ".local", "share", "pathflow")
	}
}

// DefaultLibraryPath returns the directory scanned for inference engine libraries.
func DefaultLibraryPath() string {
	return defaultLibraryPath(runtime.GOOS)
}

func defaultLibraryPath(goos string) string {
	switch goos {
	case "windows":
		return filepath.Join(os.Getenv("ProgramFiles"), "pathflow", "bin")
	default:
		return "/usr/local/lib/pathflow"
	}
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{Version: "1"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	data := DefaultDataPath()
	if c.Storage.ModelsDir == "" {
		c.Storage.ModelsDir = filepath.Join(data, "models")
	}
	if c.Storage.LibraryDir == "" {
		c.Storage.LibraryDir = DefaultLibraryPath()
	}
	if c.Storage.ProjectDir == "" {
		c.Storage.ProjectDir = filepath.Join(data, "project")
	}
	if c.Storage.HistoryDB == "" {
		c.Storage.HistoryDB = filepath.Join(data, "history.db")
	}
	if c.Runtime.TissueThreshold == 0 {
		c.Runtime.TissueThreshold = DefaultTissueThreshold
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = DefaultHTTPPort
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = DefaultGRPCPort
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.ToFile && c.Log.File == "" {
		c.Log.File = filepath.Join(data, "logs", "pathflow.log")
	}
}
