package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load scans dir for *.yaml files and returns templates keyed by name. The
// file stem must match the declared name; an absent directory is an empty
// catalog, not an error.
func Load(dir string) (map[string]Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Template{}, nil
		}
		return nil, fmt.Errorf("read templates dir: %w", err)
	}

	templates := make(map[string]Template)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		tpl, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if tpl.Name != stem {
			return nil, fmt.Errorf("template file %s declares name %q", name, tpl.Name)
		}
		if _, exists := templates[tpl.Name]; exists {
			return nil, fmt.Errorf("duplicate template %q", tpl.Name)
		}
		templates[tpl.Name] = tpl
	}
	return templates, nil
}

func readFile(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read template %s: %w", path, err)
	}
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return Template{}, fmt.Errorf("parse template %s: %w", path, err)
	}
	if tpl.Name == "" {
		tpl.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := tpl.Validate(); err != nil {
		return Template{}, fmt.Errorf("validate template %s: %w", path, err)
	}
	return tpl, nil
}
