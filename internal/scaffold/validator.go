package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/burrow/internal/config"
)

// CheckExisting returns an error if dir already holds a burrow.yml.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, config.DefaultPath)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("already initialized: found %s\n\nUse 'burrow init --force' to overwrite it", path)
	}
	return nil
}
