// Package catalog lists the selectable inference models and holds the
// per-session model selection.
package catalog

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/comigor/zapup-go/internal/config"
)

// DefaultModel is selected when a session starts.
const DefaultModel = "llama-3.1-70b-versatile"

// Provider groups model ids under the vendor that publishes them.
type Provider struct {
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

// Catalog is immutable after construction.
type Catalog struct {
	options   []string
	providers []Provider
}

var builtinOptions = []string{
	"llama-3.1-8b-instant",
	"gemma2-9b-it",
	"gemma-7b-it",
	"llama-3.1-70b-versatile",
	"llama-3.2-11b-vision-preview",
	"llama-3.2-90b-text-preview",
	"llava-v1.5-7b-4096-preview",
}

var builtinProviders = []Provider{
	{Name: "Google", Models: []string{"gemma-7b-it", "gemma2-9b-it"}},
	{Name: "Groq", Models: []string{"llama3-groq-70b-8192-tool-use-preview", "llama3-groq-8b-8192-tool-use-preview"}},
	{Name: "Hugging Face", Models: []string{"distil-whisper-large-v3-en"}},
	{Name: "Meta", Models: []string{
		"llama-3.1-70b-versatile", "llama-3.1-8b-instant", "llama-3.2-11b-text-preview",
		"llama-3.2-11b-vision-preview", "llama-3.2-1b-preview", "llama-3.2-3b-preview",
		"llama-3.2-90b-text-preview", "llama-guard-3-8b", "llama3-70b-8192", "llama3-8b-8192",
	}},
	{Name: "Mistral AI", Models: []string{"mixtral-8x7b-32768"}},
	{Name: "OpenAI", Models: []string{"whisper-large-v3"}},
	{Name: "Other", Models: []string{"llava-v1.5-7b-4096-preview"}},
}

// New builds the catalog, replacing the built-in lists with the configured ones when given.
func New(cfg config.CatalogConfig) *Catalog {
	c := &Catalog{options: slices.Clone(builtinOptions)}
	if len(cfg.Options) > 0 {
		c.options = slices.Clone(cfg.Options)
	}
	if len(cfg.Providers) > 0 {
		for _, p := range cfg.Providers {
			c.providers = append(c.providers, Provider{Name: p.Name, Models: slices.Clone(p.Models)})
		}
	} else {
		for _, p := range builtinProviders {
			c.providers = append(c.providers, Provider{Name: p.Name, Models: slices.Clone(p.Models)})
		}
	}
	return c
}

// Options returns the model ids offered in the model picker.
func (c *Catalog) Options() []string {
	return slices.Clone(c.options)
}

// Providers returns every provider group.
func (c *Catalog) Providers() []Provider {
	return c.Search("")
}

// Search filters provider groups to models whose id contains term,
// ignoring case, and drops groups left empty.
func (c *Catalog) Search(term string) []Provider {
	term = strings.ToLower(strings.TrimSpace(term))
	var out []Provider
	for _, p := range c.providers {
		var models []string
		for _, m := range p.Models {
			if strings.Contains(strings.ToLower(m), term) {
				models = append(models, m)
			}
		}
		if len(models) > 0 {
			out = append(out, Provider{Name: p.Name, Models: models})
		}
	}
	return out
}

// Contains reports whether id is offered by the picker or any provider.
func (c *Catalog) Contains(id string) bool {
	if slices.Contains(c.options, id) {
		return true
	}
	for _, p := range c.providers {
		if slices.Contains(p.Models, id) {
			return true
		}
	}
	return false
}

// UnknownModelError is returned when selecting a model outside the catalog.
type UnknownModelError struct {
	ID string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.ID)
}

// Selection is the model chosen for one session. Only explicit Select calls change it.
type Selection struct {
	catalog *Catalog

	mu      sync.RWMutex
	current string
}

// NewSelection starts a selection on initial, or DefaultModel when initial is empty.
func (c *Catalog) NewSelection(initial string) *Selection {
	if initial == "" {
		initial = DefaultModel
	}
	return &Selection{catalog: c, current: initial}
}

// Current returns the selected model id.
func (s *Selection) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Catalog returns the catalog the selection validates against.
func (s *Selection) Catalog() *Catalog { return s.catalog }

// Select switches the session to id.
func (s *Selection) Select(id string) error {
	id = strings.TrimSpace(id)
	if !s.catalog.Contains(id) {
		return &UnknownModelError{ID: id}
	}
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	return nil
}
