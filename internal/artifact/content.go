package artifact

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidateContent checks an artifact body against its type's format.
//
// Plans and Stories are Markdown documents, optionally carrying a YAML
// front matter block. Runbooks and Journeys are YAML documents. The sync
// engine itself treats content as opaque; only validation and the
// automatic resolver's content comparison are type-aware.
func ValidateContent(t Type, content string) error {
	switch t {
	case TypePlan, TypeStory:
		return validateMarkdown(content)
	case TypeRunbook, TypeJourney:
		return validateYAML(content)
	default:
		return fmt.Errorf("unknown artifact type %q", t)
	}
}

// validateMarkdown accepts any non-empty document, but if a front matter
// fence is present the enclosed YAML must parse.
func validateMarkdown(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty document")
	}
	fm, ok := frontMatter(content)
	if !ok {
		return nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(fm), &doc); err != nil {
		return fmt.Errorf("front matter is not valid YAML: %w", err)
	}
	return nil
}

// validateYAML requires the whole body to be a parseable YAML document.
func validateYAML(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty document")
	}
	var doc any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("not valid YAML: %w", err)
	}
	return nil
}

// frontMatter extracts the YAML block between leading "---" fences.
func frontMatter(content string) (string, bool) {
	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return "", false
	}
	rest := strings.TrimPrefix(content, "---\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
