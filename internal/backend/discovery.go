package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// libraryConvention describes how inference engine libraries are named on one kernel family.
type libraryConvention struct {
	marker string
	suffix string
}

var conventions = map[string]libraryConvention{
	"linux":   {marker: "libInferenceEngine", suffix: ".so"},
	"windows": {marker: "InferenceEngine", suffix: ".dll"},
}

// Discover scans libDir for inference engine libraries following the naming convention of goos.
// Kernels without a convention yield an empty set and a warning, as does a missing directory.
func Discover(libDir, goos string) (Set, error) {
	found := NewSet()

	conv, ok := conventions[goos]
	if !ok {
		slog.Warn("Current kernel is not supported for backend discovery", "goos", goos, "supported", "linux, windows")
		return found, nil
	}

	entries, err := os.ReadDir(libDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Library directory does not exist, no backends discovered", "path", libDir)
			return found, nil
		}
		return nil, fmt.Errorf("read library directory %s: %w", libDir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := conv.extract(e.Name()); ok {
			found[id] = struct{}{}
		}
	}

	slog.Debug("Backends discovered", "path", libDir, "backends", found.Sorted())
	return found, nil
}

// extract pulls <Name> out of <marker><Name><suffix>, optionally followed by
// numeric version parts (.so.2022.1). Matching is case-sensitive.
func (c libraryConvention) extract(filename string) (ID, bool) {
	i := strings.LastIndex(filename, c.marker)
	if i < 0 {
		return "", false
	}

	rest := filename[i+len(c.marker):]
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 {
		return "", false
	}

	name, ext := rest[:dot], rest[dot:]
	version, ok := strings.CutPrefix(ext, c.suffix)
	if !ok || !isVersion(version) {
		return "", false
	}

	return ID(name), true
}

// isVersion reports whether s is empty or a run of ".<digits>" parts.
func isVersion(s string) bool {
	if s == "" {
		return true
	}
	if s[0] != '.' {
		return false
	}
	for _, part := range strings.Split(s[1:], ".") {
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			return false
		}
	}
	return true
}
