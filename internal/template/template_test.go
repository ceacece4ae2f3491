package template

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "coder.yaml", "name: coder\nmodel: big-coder-1\nprompt: You write code.\ntools: [read, write, exec]\n")
	writeTemplate(t, dir, "reviewer.yaml", "description: reviews diffs\ntool_timeout: 30s\n")
	writeTemplate(t, dir, "notes.txt", "not a template")

	templates, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(templates) != 2 {
		t.Fatalf("loaded %d templates, want 2", len(templates))
	}

	coder := templates["coder"]
	if coder.Model != "big-coder-1" || len(coder.Tools) != 3 {
		t.Errorf("coder = %+v", coder)
	}

	// Name defaults to the file stem.
	reviewer, ok := templates["reviewer"]
	if !ok {
		t.Fatal("reviewer template missing")
	}
	if reviewer.Name != "reviewer" {
		t.Errorf("reviewer name = %q, want file stem", reviewer.Name)
	}
	if reviewer.ToolTimeout.Seconds() != 30 {
		t.Errorf("tool_timeout = %v, want 30s", reviewer.ToolTimeout)
	}
}

func TestLoadMissingDir(t *testing.T) {
	templates, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Load of missing dir error: %v", err)
	}
	if len(templates) != 0 {
		t.Errorf("loaded %d templates from missing dir, want 0", len(templates))
	}
}

func TestLoadRejectsNameMismatch(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "coder.yaml", "name: reviewer\n")

	if _, err := Load(dir); err == nil {
		t.Error("Load should reject file/name mismatch")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		tpl   Template
		valid bool
	}{
		{Template{Name: "coder"}, true},
		{Template{Name: ""}, false},
		{Template{Name: "  "}, false},
		{Template{Name: "a/b"}, false},
		{Template{Name: "coder", ToolTimeout: -1}, false},
	}

	for _, tt := range tests {
		err := tt.tpl.Validate()
		if (err == nil) != tt.valid {
			t.Errorf("Validate(%+v) = %v, want valid=%v", tt.tpl, err, tt.valid)
		}
	}
}

func TestRegistryReload(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "coder.yaml", "name: coder\n")

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	if _, ok := r.Get("coder"); !ok {
		t.Fatal("coder should be loaded")
	}

	var reloaded int
	r.OnReload(func(count int) { reloaded = count })

	writeTemplate(t, dir, "reviewer.yaml", "name: reviewer\n")
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if r.Count() != 2 || reloaded != 2 {
		t.Errorf("after reload: count=%d callback=%d, want 2/2", r.Count(), reloaded)
	}

	// A broken file keeps the previous catalog.
	writeTemplate(t, dir, "bad.yaml", ": not yaml [")
	if err := r.Reload(); err == nil {
		t.Fatal("Reload of broken catalog should fail")
	}
	if r.Count() != 2 {
		t.Errorf("catalog size after failed reload = %d, want 2", r.Count())
	}
}
