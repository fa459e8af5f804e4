package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptSet holds the system prompts used by the explainer and chat
// engines. Operators can override any of them through a YAML file pointed
// at by EXPLAINER_PROMPTS_FILE; empty fields keep the defaults.
type PromptSet struct {
	ModuleSystem  string `yaml:"module_system"`
	PackageSystem string `yaml:"package_system"`
	GlobalSystem  string `yaml:"global_system"`
	ChatSystem    string `yaml:"chat_system"`
}

const defaultModuleSystemPrompt = `You are an expert Move smart-contract auditor. Explain the module you are given to a technical reader.

Structure your answer in exactly five parts:
1. Summary — what the module does and why it exists.
2. Structs — each struct, its fields, and what it represents.
3. Entry functions — each entry point, its parameters, and its effect.
4. Security model — capabilities, access control, and ownership rules.
5. Risks — anything a caller or integrator should be careful about.

After the five parts, end your response with a single line of the form:
ULTRA_SUMMARY: <one sentence describing what this module does>`

const defaultPackageSystemPrompt = `You are an expert Move smart-contract auditor. Synthesize the provided per-module explanations into one coherent explanation of the whole package.

Structure your answer in exactly six sections:
1. Overview — the package's purpose in plain language.
2. Architecture — how the modules are organized and layered.
3. Key functionality — the main operations the package exposes.
4. Security — the package-wide security and access-control model.
5. Usage — how a developer or user interacts with the package.
6. Module relationships — how the modules depend on and call each other.`

const defaultGlobalSystemPrompt = `You are a blockchain analyst writing for a business audience. Using the provided package explanations, write a 2-3 paragraph summary of what this deployment does as a whole: its purpose, the role of the primary package, and how the dependencies support it. Avoid code-level detail.

End with exactly this sentence: "Explore the full analysis to see how each module and package fits together."`

const defaultChatSystemPrompt = `You are an assistant answering questions about analyzed Move smart contracts. Answer ONLY from the context provided below. Rules:
- Cite module full names (package_address::module_name) and package addresses when referring to them.
- Package addresses may appear with or without leading zero padding; treat such variants as the same address.
- If the context does not contain enough information to answer, say so plainly instead of speculating.`

func DefaultPrompts() *PromptSet {
	return &PromptSet{
		ModuleSystem:  defaultModuleSystemPrompt,
		PackageSystem: defaultPackageSystemPrompt,
		GlobalSystem:  defaultGlobalSystemPrompt,
		ChatSystem:    defaultChatSystemPrompt,
	}
}

// LoadPrompts returns the defaults merged with the overrides file named by
// EXPLAINER_PROMPTS_FILE, when set.
func LoadPrompts() (*PromptSet, error) {
	prompts := DefaultPrompts()

	path := strings.TrimSpace(os.Getenv("EXPLAINER_PROMPTS_FILE"))
	if path == "" {
		return prompts, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt overrides %s: %w", path, err)
	}
	var overrides PromptSet
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("prompt overrides %s: %w", path, err)
	}

	if strings.TrimSpace(overrides.ModuleSystem) != "" {
		prompts.ModuleSystem = overrides.ModuleSystem
	}
	if strings.TrimSpace(overrides.PackageSystem) != "" {
		prompts.PackageSystem = overrides.PackageSystem
	}
	if strings.TrimSpace(overrides.GlobalSystem) != "" {
		prompts.GlobalSystem = overrides.GlobalSystem
	}
	if strings.TrimSpace(overrides.ChatSystem) != "" {
		prompts.ChatSystem = overrides.ChatSystem
	}
	return prompts, nil
}
