package model

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Metadata file extensions, in lookup order.
var metadataExtensions = []string{".txt", ".yaml", ".yml"}

// ReadMetadata reads <dir>/<name>.txt, falling back to the YAML variants.
func ReadMetadata(dir, name string) (map[string]string, error) {
	for _, ext := range metadataExtensions {
		path := filepath.Join(dir, name+ext)

		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open metadata %s: %w", path, err)
		}
		defer f.Close()

		if ext == ".txt" {
			return ParseMetadata(f)
		}
		return ParseMetadataYAML(f)
	}

	return nil, fmt.Errorf("%w: %s", ErrMetadataMissing, filepath.Join(dir, name+".txt"))
}

// ParseMetadata parses key=value or key:value lines. Blank lines and lines
// starting with # are ignored; later keys win.
func ParseMetadata(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sep := "="
		if !strings.Contains(line, sep) {
			sep = ":"
		}
		key, value, ok := strings.Cut(line, sep)
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: line %d: expected key=value, got %q", ErrInvalidMetadata, lineNo, line)
		}
		out[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	return out, nil
}

// ParseMetadataYAML parses a flat YAML mapping. Scalar values are stringified;
// sequences are joined the way the text format writes them.
func ParseMetadataYAML(r io.Reader) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = stringify(v)
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(t))
		sep := ","
		for i, e := range t {
			if _, nested := e.([]any); nested {
				sep = ";"
			}
			parts[i] = stringify(e)
		}
		return strings.Join(parts, sep)
	default:
		return fmt.Sprint(t)
	}
}

// FormatMetadata renders a metadata map in the text format, keys sorted.
func FormatMetadata(m map[string]string) string {
	var b strings.Builder
	for _, k := range sortedKeys(m) {
		fmt.Fprintf(&b, "%s=%s\n", k, m[k])
	}
	return b.String()
}
