package agent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptPack []byte

const contextSection = `<context>
The current date and time is {{.Time}}.
You're in the {{.Workspace}} Slack workspace, inside the {{.Channel}} channel.
You joined the workspace on {{.Joined}}.
Your current status is {{.Status}} and your activity is {{.Activity}}.
</context>`

// PromptPack is the set of system prompt sections.
type PromptPack struct {
	Core        string `yaml:"core"`
	Personality string `yaml:"personality"`
	Tools       string `yaml:"tools"`
	Reply       string `yaml:"reply"`
}

// LoadPromptPack reads a prompt pack from path, or the embedded default when
// path is empty.
func LoadPromptPack(path string) (*PromptPack, error) {
	data := defaultPromptPack
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt pack: %w", err)
		}
		data = b
	}
	var pack PromptPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse prompt pack: %w", err)
	}
	if strings.TrimSpace(pack.Core) == "" {
		return nil, fmt.Errorf("prompt pack has no core section")
	}
	return &pack, nil
}

// PromptBuilder renders the system prompt for a run.
type PromptBuilder struct {
	tmpl *template.Template
}

func NewPromptBuilder(pack *PromptPack) (*PromptBuilder, error) {
	sections := []string{pack.Core, pack.Personality, contextSection, pack.Tools, pack.Reply}
	var parts []string
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	tmpl, err := template.New("system").Option("missingkey=error").Parse(strings.Join(parts, "\n"))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &PromptBuilder{tmpl: tmpl}, nil
}

// Build renders the system prompt with the given hints.
func (p *PromptBuilder) Build(h Hints) (string, error) {
	if h.BotName == "" {
		h.BotName = "the assistant"
	}
	var b strings.Builder
	if err := p.tmpl.Execute(&b, h); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
