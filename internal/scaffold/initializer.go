// Package scaffold writes a starter burrow.yml.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/burrow/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes the starter configuration into dir and checks that it
// loads. With force an existing configuration is replaced.
func Initialize(dir string, force bool) ([]string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return nil, err
		}
	}

	files, err := getTemplateFiles(dir)
	if err != nil {
		return nil, err
	}

	created := make([]string, 0, len(files))
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		created = append(created, file.Path)
	}

	if _, err := config.Load(filepath.Join(dir, config.DefaultPath)); err != nil {
		return nil, fmt.Errorf("created %s does not load: %w", config.DefaultPath, err)
	}
	return created, nil
}

func getTemplateFiles(dir string) ([]FileInfo, error) {
	burrowYml, err := templatesFS.ReadFile("templates/burrow.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read burrow.yml template: %w", err)
	}
	return []FileInfo{{
		Path:        filepath.Join(dir, config.DefaultPath),
		Content:     burrowYml,
		Permissions: 0644,
	}}, nil
}
