package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyluth/burrow/pkg/dump"
)

// ErrNotFound is returned by Find when no manifest matches.
var ErrNotFound = errors.New("manifest not found")

// IsManifestFile reports whether a base name looks like a manifest.
func IsManifestFile(name string) bool {
	if name == FileName {
		return true
	}
	return strings.HasPrefix(name, "manifest-") && strings.HasSuffix(name, ".json")
}

// Scan walks root and returns the paths of every manifest beneath it, sorted.
// A missing root yields no manifests.
func Scan(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsManifestFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for manifests: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Entry pairs a manifest with the file it was loaded from.
type Entry struct {
	Path     string
	Manifest *dump.Manifest
}

// LoadAll reads every manifest under root. Unreadable files are reported
// through skipped rather than failing the whole load.
func LoadAll(root string) (entries []Entry, skipped []error, err error) {
	paths, err := Scan(root)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range paths {
		m, err := Read(p)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		entries = append(entries, Entry{Path: p, Manifest: m})
	}
	return entries, skipped, nil
}

// Find resolves ref to a manifest path. ref may be a manifest file, an issue
// directory, or an issue id to search for under root.
func Find(root, ref string) (string, error) {
	if info, err := os.Stat(ref); err == nil {
		if !info.IsDir() {
			return ref, nil
		}
		p := filepath.Join(ref, FileName)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("%w: no %s in %s", ErrNotFound, FileName, ref)
	}

	entries, _, err := LoadAll(root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Manifest.IssueID == ref {
			return e.Path, nil
		}
	}
	return "", fmt.Errorf("%w: issue %q under %s", ErrNotFound, ref, root)
}
