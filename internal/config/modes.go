package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
)

// SessionMode controls whether a mode's jobs may be resumed via
// continue_session (original_source/src/domain/agent/templates.rs's
// SessionMode enum, supplemented feature per SPEC_FULL.md §3).
type SessionMode string

const (
	SessionOneshot     SessionMode = "oneshot"
	SessionInteractive SessionMode = "interactive"
)

// ModeDefinition is a named task template (spec §3).
type ModeDefinition struct {
	Name              string      `yaml:"name"`
	PromptTemplate    string      `yaml:"prompt_template"`
	SystemPrompt      string      `yaml:"system_prompt,omitempty"`
	AllowedTools      []string    `yaml:"allowed_tools,omitempty"`
	DisallowedTools   []string    `yaml:"disallowed_tools,omitempty"`
	DeclaredStates    []string    `yaml:"declared_states,omitempty"`
	Session           SessionMode `yaml:"session,omitempty"`
}

// Render substitutes the mode's placeholders
// ({file},{line},{target},{mode},{description},{scope_type},{ide_context})
// into the prompt template.
func (m ModeDefinition) Render(vars map[string]string) string {
	out := m.PromptTemplate
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// ChainStep is one step of a ChainDefinition (spec §3).
type ChainStep struct {
	Mode          string   `yaml:"mode"`
	TriggerOn     []string `yaml:"trigger_on,omitempty"`
	SkipOn        []string `yaml:"skip_on,omitempty"`
	AgentOverride string   `yaml:"agent_override,omitempty"`
	InjectContext string   `yaml:"inject_context,omitempty"`
}

// ChainDefinition is an ordered composition of modes (spec §3).
type ChainDefinition struct {
	Name             string      `yaml:"name"`
	Steps            []ChainStep `yaml:"steps"`
	StopOnFailure    bool        `yaml:"stop_on_failure"`
	PassFullResponse bool        `yaml:"pass_full_response"`
	WorktreePolicy   string      `yaml:"worktree_policy,omitempty"`
}

// Definitions is the loaded set of modes and chains.
type Definitions struct {
	Modes  map[string]ModeDefinition  `yaml:"modes"`
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// DefaultModeTemplates returns the built-in modes shipped so a fresh
// install works without hand-authoring YAML (original_source's
// default_mode_templates(), supplemented per SPEC_FULL.md §3).
func DefaultModeTemplates() map[string]ModeDefinition {
	modes := []ModeDefinition{
		{
			Name:           "refactor",
			PromptTemplate: "Refactor the {scope_type} at {target} in {file}. {description}",
			DeclaredStates: []string{"fixed", "blocked"},
			Session:        SessionOneshot,
		},
		{
			Name:           "fix",
			PromptTemplate: "Fix the issue at {target} in {file}: {description}",
			DeclaredStates: []string{"fixed", "blocked"},
			Session:        SessionInteractive,
		},
		{
			Name:           "tests",
			PromptTemplate: "Write tests covering {target} in {file}. {description}",
			DeclaredStates: []string{"tests_pass", "blocked"},
			Session:        SessionOneshot,
		},
		{
			Name:           "docs",
			PromptTemplate: "Document {target} in {file}. {description}",
			DeclaredStates: []string{"fixed"},
			Session:        SessionOneshot,
		},
		{
			Name:           "review",
			PromptTemplate: "Review the {scope_type} at {target} in {file} for issues. {description}",
			DeclaredStates: []string{"issues_found", "no_issues"},
			Session:        SessionInteractive,
		},
	}
	out := make(map[string]ModeDefinition, len(modes))
	for _, m := range modes {
		out[m.Name] = m
	}
	return out
}

// LoadDefinitions reads a modes/chains YAML file, falling back to the
// built-in mode templates (and no chains) if path does not exist.
func LoadDefinitions(path string) (Definitions, error) {
	defs := Definitions{Modes: DefaultModeTemplates(), Chains: map[string]ChainDefinition{}}
	if path == "" {
		return defs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defs, nil
		}
		return defs, fmt.Errorf("read definitions %s: %w: %w", path, kerrors.ErrConfig, err)
	}
	var loaded Definitions
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return defs, fmt.Errorf("parse definitions %s: %w: %w", path, kerrors.ErrConfig, err)
	}
	if loaded.Modes == nil {
		loaded.Modes = map[string]ModeDefinition{}
	}
	if loaded.Chains == nil {
		loaded.Chains = map[string]ChainDefinition{}
	}
	// User-defined modes are overlaid onto (and may override) the built-ins.
	for name, m := range loaded.Modes {
		defs.Modes[name] = m
	}
	defs.Chains = loaded.Chains
	return defs, nil
}

// DefinitionsStore holds live Definitions behind a reader-writer lock,
// reloaded alongside Store.Reload via POST /ctl/config/reload.
type DefinitionsStore struct {
	mu   sync.RWMutex
	defs Definitions
	path string
}

// NewDefinitionsStore loads path once and wraps the result for concurrent use.
func NewDefinitionsStore(path string) (*DefinitionsStore, error) {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	return &DefinitionsStore{defs: defs, path: path}, nil
}

// Get returns the current Definitions snapshot.
func (s *DefinitionsStore) Get() Definitions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defs
}

// Reload re-reads the definitions file and swaps it in atomically.
func (s *DefinitionsStore) Reload() error {
	defs, err := LoadDefinitions(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.defs = defs
	s.mu.Unlock()
	return nil
}

// Mode looks up a mode definition by name.
func (d Definitions) Mode(name string) (ModeDefinition, bool) {
	m, ok := d.Modes[name]
	return m, ok
}

// Chain looks up a chain definition by name.
func (d Definitions) Chain(name string) (ChainDefinition, bool) {
	c, ok := d.Chains[name]
	return c, ok
}

// ModeNames lists every known mode name, for UI/selection-popup population.
func (d Definitions) ModeNames() []string {
	names := make([]string, 0, len(d.Modes))
	for name := range d.Modes {
		names = append(names, name)
	}
	return names
}

// ChainNames lists every known chain name, for UI/selection-popup population.
func (d Definitions) ChainNames() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	return names
}
