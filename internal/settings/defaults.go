package settings

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dice-wager-engine/internal/model"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Defaults returns the built-in default settings.
func Defaults() (*model.GameSettings, error) {
	return Parse(defaultsYAML)
}

// LoadDefaults reads defaults from path, falling back to the built-in
// document when path is empty.
func LoadDefaults(path string) (*model.GameSettings, error) {
	if path == "" {
		return Defaults()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML settings document.
func Parse(data []byte) (*model.GameSettings, error) {
	var s model.GameSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if s.Manipulation.Mode == "" {
		s.Manipulation.Mode = model.ModeFair
	}
	return &s, nil
}
