package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

//go:embed template/*.txt
var templates embed.FS

// Load returns the trimmed instruction template called name.
func Load(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: invalid template name %q", contractx.ErrPromptMissing, name)
	}
	raw, err := fs.ReadFile(templates, "template/"+name+".txt")
	if err != nil {
		return "", fmt.Errorf("%w: template %q: %v", contractx.ErrPromptMissing, name, err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("%w: template %q is empty", contractx.ErrPromptMissing, name)
	}
	return text, nil
}

// Names lists the embedded templates.
func Names() []string {
	entries, err := fs.ReadDir(templates, "template")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}
	return names
}
