package services

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPromptsDefaults(t *testing.T) {
	t.Setenv("EXPLAINER_PROMPTS_FILE", "")

	prompts, err := LoadPrompts()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	mustContain(t, prompts.ModuleSystem, "ULTRA_SUMMARY:")
	mustContain(t, prompts.GlobalSystem, "Explore the full analysis to see how each module and package fits together.")
	mustContain(t, prompts.ChatSystem, "leading zero padding")
}

func TestLoadPromptsMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	overrides := "module_system: |\n  Custom module prompt.\nchat_system: \"Custom chat prompt.\"\n"
	if err := os.WriteFile(path, []byte(overrides), 0o644); err != nil {
		t.Fatalf("write overrides: %v", err)
	}
	t.Setenv("EXPLAINER_PROMPTS_FILE", path)

	prompts, err := LoadPrompts()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	mustContain(t, prompts.ModuleSystem, "Custom module prompt.")
	if prompts.ChatSystem != "Custom chat prompt." {
		t.Fatalf("chat prompt = %q", prompts.ChatSystem)
	}
	// Fields absent from the file keep their defaults.
	mustContain(t, prompts.PackageSystem, "six sections")
	mustContain(t, prompts.GlobalSystem, "Explore the full analysis")
}

func TestLoadPromptsRejectsMissingFile(t *testing.T) {
	t.Setenv("EXPLAINER_PROMPTS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadPrompts(); err == nil {
		t.Fatalf("expected error for missing overrides file")
	}
}
