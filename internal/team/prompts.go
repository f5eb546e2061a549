package team

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts/*.md
var promptFS embed.FS

// renderPrompt loads an embedded template and substitutes {{name}} slots.
func renderPrompt(name string, vars map[string]string) (string, error) {
	content, err := promptFS.ReadFile("prompts/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("prompt template '%s' not found: %w", name, err)
	}
	text := string(content)
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}
	return text, nil
}
