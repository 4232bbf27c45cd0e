package hub

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Card is a repository README split into its YAML front matter and body.
type Card struct {
	Metadata map[string]any
	Body     string
}

// ParseCard splits a leading "---" delimited YAML block from md. Line endings
// are normalized to \n when a block is found. Unparseable front matter is
// still removed from the body but yields nil Metadata.
func ParseCard(md string) Card {
	normalized := strings.ReplaceAll(md, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return Card{Body: md}
	}
	end := strings.Index(normalized[4:], "\n---")
	if end < 0 {
		return Card{Body: md}
	}

	front := normalized[4 : 4+end]
	body := strings.TrimLeft(normalized[4+end+len("\n---"):], "-\n")

	var meta map[string]any
	if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
		meta = nil
	}
	return Card{Metadata: meta, Body: body}
}
