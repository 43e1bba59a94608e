package xfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExpandTilde replaces a leading tilde (~) with the user's home directory.
func ExpandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return path
}

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ListDirs returns the sorted names of the sub-directories of dir.
func ListDirs(dir string) ([]string, error) {
	return list(dir, true)
}

// ListFiles returns the sorted names of the regular files in dir.
func ListFiles(dir string) ([]string, error) {
	return list(dir, false)
}

func list(dir string, dirs bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() == dirs {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReplaceDir fills a staging directory next to dst with fill and then swaps it into place,
// so dst either keeps its previous content or holds everything fill wrote.
func ReplaceDir(dst string, fill func(dir string) error) error {
	parent := filepath.Dir(dst)
	if err := EnsureDir(parent); err != nil {
		return err
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dst)+".staging-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := fill(staging); err != nil {
		return err
	}

	backup := ""
	if IsDir(dst) {
		backup = staging + ".old"
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("move previous %s aside: %w", dst, err)
		}
	}

	if err := os.Rename(staging, dst); err != nil {
		if backup != "" {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("move %s into place: %w", dst, err)
	}

	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}
