package worker

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dyluth/burrow/pkg/dump"
	"github.com/zeebo/blake3"
)

// Verify checks that every pattern matches at least one non-empty regular
// file in dir and returns the matched files with their BLAKE3 digests.
func Verify(dir string, patterns []string) ([]dump.Artifact, error) {
	seen := make(map[string]bool)
	var artifacts []dump.Artifact

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid artifact pattern %q: %w", pattern, err)
		}
		sort.Strings(matches)

		found := false
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
				continue
			}
			found = true
			if seen[path] {
				continue
			}
			seen[path] = true

			digest, err := digestFile(path)
			if err != nil {
				return nil, err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				rel = filepath.Base(path)
			}
			artifacts = append(artifacts, dump.Artifact{Name: rel, Size: info.Size(), Digest: digest})
		}

		if !found {
			return nil, fmt.Errorf("no non-empty artifact matching %q in %s", pattern, dir)
		}
	}

	return artifacts, nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash artifact %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
