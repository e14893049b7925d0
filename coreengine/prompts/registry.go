// Package prompts renders the model prompts from embedded templates.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"
)

// Prompt keys.
const (
	KeyIntent      = "intent"
	KeyKSelector   = "k_selector"
	KeyDirect      = "direct"
	KeyRAGAnswer   = "rag_answer"
	KeyRAGSummary  = "rag_summary"
	KeyRAGCompare  = "rag_compare"
	KeyGrounding   = "grounding"
	KeySummaryTool = "summary_tool"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Registry holds parsed prompt templates keyed by file stem.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewRegistry parses the embedded templates.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[string]*template.Template)}

	entries, err := fs.ReadDir(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("read prompt templates: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		data, err := templateFS.ReadFile("templates/" + name)
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", name, err)
		}
		if err := r.Register(strings.TrimSuffix(name, ".tmpl"), string(data)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNewRegistry is NewRegistry for package initialisation and tests.
func MustNewRegistry() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(key, text string) error {
	tmpl, err := template.New(key).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("parse prompt %s: %w", key, err)
	}
	r.mu.Lock()
	r.templates[key] = tmpl
	r.mu.Unlock()
	return nil
}

// Get renders the template for key with data.
func (r *Registry) Get(key string, data map[string]any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[key]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", key)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", key, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Keys lists registered prompt keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.templates))
	for k := range r.templates {
		keys = append(keys, k)
	}
	return keys
}
