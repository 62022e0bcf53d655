package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/RichardoC/sam-ai/internal/models"
)

const DefaultAssistantName = "Sam"

//go:embed persona.txt
var defaultPersona string

//go:embed prompt.tmpl
var promptTemplate string

// Input is everything a single prompt is rendered from.
type Input struct {
	History  []models.Message
	Message  string
	Tool     string
	HasImage bool
}

type Builder struct {
	tmpl          *template.Template
	persona       string
	assistantName string
	maxTokens     int
	counter       TokenCounter
}

type Option func(*Builder)

func WithAssistantName(name string) Option {
	return func(b *Builder) {
		if name = strings.TrimSpace(name); name != "" {
			b.assistantName = name
		}
	}
}

// WithTokenBudget caps the rendered prompt at maxTokens as measured by
// counter. The oldest history is dropped first. Zero disables the cap.
func WithTokenBudget(maxTokens int, counter TokenCounter) Option {
	return func(b *Builder) {
		b.maxTokens = maxTokens
		if counter != nil {
			b.counter = counter
		}
	}
}

// LoadPersona reads the persona text from path, or returns the built-in
// persona when path is empty.
func LoadPersona(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return defaultPersona, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read persona: %w", err)
	}
	persona := strings.TrimSpace(string(data))
	if persona == "" {
		return "", fmt.Errorf("persona file %s is empty", path)
	}
	return persona, nil
}

func NewBuilder(persona string, opts ...Option) (*Builder, error) {
	tmpl, err := template.New("prompt").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	b := &Builder{
		tmpl:          tmpl,
		persona:       strings.TrimSpace(persona),
		assistantName: DefaultAssistantName,
		counter:       ApproxCounter{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build renders the prompt. When a token budget is set, whole user/assistant
// pairs are removed from the front of the history until the prompt fits or
// no history is left.
func (b *Builder) Build(in Input) (string, error) {
	history := in.History
	for {
		out, err := b.render(in, history)
		if err != nil {
			return "", err
		}
		if b.maxTokens <= 0 || len(history) == 0 || b.counter.Count(out) <= b.maxTokens {
			return out, nil
		}
		drop := 2
		if len(history) < drop {
			drop = len(history)
		}
		history = history[drop:]
	}
}

func (b *Builder) render(in Input, history []models.Message) (string, error) {
	data := struct {
		Persona       string
		AssistantName string
		Tool          string
		HasImage      bool
		History       []models.Message
		Message       string
	}{
		Persona:       b.persona,
		AssistantName: b.assistantName,
		Tool:          strings.TrimSpace(in.Tool),
		HasImage:      in.HasImage,
		History:       history,
		Message:       in.Message,
	}

	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
