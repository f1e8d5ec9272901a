package guide

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store exposes guide lookup to handlers and sessions.
type Store interface {
	List() []Guide
	FindByID(id string) (Guide, bool)
}

// MemoryStore implements Store over a fixed slice.
type MemoryStore struct {
	items []Guide
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied guides.
func NewMemoryStore(items []Guide) *MemoryStore {
	return &MemoryStore{items: append([]Guide(nil), items...)}
}

// List returns every guide.
func (s *MemoryStore) List() []Guide {
	return append([]Guide(nil), s.items...)
}

// FindByID looks up a guide by identifier.
func (s *MemoryStore) FindByID(id string) (Guide, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Guide{}, false
}

type guideFile struct {
	Guides []Guide `yaml:"guides"`
}

// LoadFile reads guides from a YAML file and merges them over the seeds.
// Entries whose id matches a seed replace it.
func LoadFile(path string) ([]Guide, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guides file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a guides document and merges it over the seeds.
func Parse(data []byte) ([]Guide, error) {
	var file guideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse guides file: %w", err)
	}

	merged := Seed()
	for _, g := range file.Guides {
		g.ID = strings.TrimSpace(g.ID)
		if g.ID == "" {
			return nil, errors.New("guide entry without id")
		}
		if strings.TrimSpace(g.SystemPrompt) == "" {
			return nil, fmt.Errorf("guide %s has no systemPrompt", g.ID)
		}
		if g.Language == "" {
			g.Language = "en-US"
		}

		replaced := false
		for i := range merged {
			if merged[i].ID == g.ID {
				merged[i] = g
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, g)
		}
	}
	return merged, nil
}
