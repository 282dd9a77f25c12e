package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LanguageConfig describes one runnable language in the sandbox whitelist.
type LanguageConfig struct {
	Name  string `yaml:"name"`
	Image string `yaml:"image"`
}

// SandboxWhitelist is the set of languages the execution supervisor will
// run, plus the command template used to launch the sandbox. The template
// supports the placeholders {file} (host path of the materialized
// document) and {image} (the language's container image).
type SandboxWhitelist struct {
	Command   []string         `yaml:"command"`
	Languages []LanguageConfig `yaml:"languages"`
}

// DefaultSandboxWhitelist mirrors the deployment defaults: one container
// image per supported language, document mounted read-only.
func DefaultSandboxWhitelist() *SandboxWhitelist {
	return &SandboxWhitelist{
		Command: []string{
			"docker", "run",
			"--mount", "type=bind,source={file},destination=/sandbox/main,readonly",
			"--rm", "-i",
			"{image}",
		},
		Languages: []LanguageConfig{
			{Name: "python", Image: "codedocs-python"},
			{Name: "js", Image: "codedocs-node"},
		},
	}
}

// LoadSandboxWhitelist loads and validates a YAML whitelist; an empty
// path yields the defaults.
func LoadSandboxWhitelist(path string) (*SandboxWhitelist, error) {
	if path == "" {
		return DefaultSandboxWhitelist(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sandbox whitelist: %w", err)
	}

	var wl SandboxWhitelist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return nil, fmt.Errorf("failed to parse sandbox whitelist: %w", err)
	}

	if err := validateWhitelist(&wl); err != nil {
		return nil, fmt.Errorf("invalid sandbox whitelist: %w", err)
	}

	return &wl, nil
}

// Image returns the container image configured for a language.
func (w *SandboxWhitelist) Image(language string) (string, bool) {
	for _, l := range w.Languages {
		if l.Name == language {
			return l.Image, true
		}
	}
	return "", false
}

func validateWhitelist(wl *SandboxWhitelist) error {
	if len(wl.Command) == 0 {
		return fmt.Errorf("command cannot be empty")
	}
	if len(wl.Languages) == 0 {
		return fmt.Errorf("languages array cannot be empty")
	}
	for i, l := range wl.Languages {
		if l.Name == "" {
			return fmt.Errorf("language[%d]: name cannot be empty", i)
		}
		if l.Image == "" {
			return fmt.Errorf("language[%d] (%s): image cannot be empty", i, l.Name)
		}
	}
	return nil
}
