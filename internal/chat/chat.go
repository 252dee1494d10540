// Package chat builds the turn sequence for a generation request and hands it
// to a Formatter that renders the model's prompt text.
package chat

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Role names the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// BuildTurns orders system, history and current into turns. Inputs that are
// empty after trimming are omitted; kept inputs are passed through as given.
func BuildTurns(system, history, current string) []Turn {
	var turns []Turn
	if strings.TrimSpace(system) != "" {
		turns = append(turns, Turn{Role: RoleSystem, Text: system})
	}
	if strings.TrimSpace(history) != "" {
		turns = append(turns, Turn{Role: RoleUser, Text: history})
	}
	if strings.TrimSpace(current) != "" {
		turns = append(turns, Turn{Role: RoleUser, Text: current})
	}
	return turns
}

// Formatter renders turns into prompt text. When addGenerationMarker is true
// the output ends with the marker that cues the assistant's reply.
type Formatter interface {
	Format(turns []Turn, addGenerationMarker bool) (string, error)
}

// ChatMLTemplate is the default template.
const ChatMLTemplate = `{{- range .Turns }}<|im_start|>{{ .Role }}
{{ .Text }}<|im_end|>
{{ end }}{{ if .AddGenerationMarker }}<|im_start|>assistant
{{ end }}`

// TemplateFormatter renders turns with a text/template. The template sees
// .Turns and .AddGenerationMarker.
type TemplateFormatter struct {
	tmpl *template.Template
}

// NewTemplateFormatter parses src; an empty src selects ChatMLTemplate.
func NewTemplateFormatter(src string) (*TemplateFormatter, error) {
	if strings.TrimSpace(src) == "" {
		src = ChatMLTemplate
	}
	t, err := template.New("chat").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse chat template: %w", err)
	}
	return &TemplateFormatter{tmpl: t}, nil
}

// ChatML returns a formatter for ChatMLTemplate.
func ChatML() *TemplateFormatter {
	return &TemplateFormatter{tmpl: template.Must(template.New("chat").Option("missingkey=error").Parse(ChatMLTemplate))}
}

func (f *TemplateFormatter) Format(turns []Turn, addGenerationMarker bool) (string, error) {
	var b bytes.Buffer
	data := struct {
		Turns               []Turn
		AddGenerationMarker bool
	}{turns, addGenerationMarker}
	if err := f.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render chat template: %w", err)
	}
	return b.String(), nil
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(turns []Turn, addGenerationMarker bool) (string, error)

func (f FormatterFunc) Format(turns []Turn, addGenerationMarker bool) (string, error) {
	return f(turns, addGenerationMarker)
}
