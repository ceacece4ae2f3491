// Package template loads agent template definitions from YAML files. A
// template names the agent profile an invited session runs under; editing
// templates is an external concern, this package only reads them.
package template

import (
	"fmt"
	"strings"
	"time"
)

// Template defines one agent profile, loaded from <templates-dir>/<name>.yaml.
type Template struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Model       string        `yaml:"model,omitempty"`
	Prompt      string        `yaml:"prompt,omitempty"`
	Tools       []string      `yaml:"tools,omitempty"`
	ToolTimeout time.Duration `yaml:"tool_timeout,omitempty"` // overrides the scheduler default when set
}

// Validate checks the fields a session invite depends on.
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	if strings.ContainsAny(t.Name, "/\\") {
		return fmt.Errorf("template name %q must not contain path separators", t.Name)
	}
	if t.ToolTimeout < 0 {
		return fmt.Errorf("template %q: tool_timeout must not be negative", t.Name)
	}
	return nil
}
