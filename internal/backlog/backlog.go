// Package backlog imports feature definitions from YAML files into the
// feature store. A backlog file is how a planner (human or model) hands a
// whole dependency-ordered work plan to the orchestrator in one atomic step.
package backlog

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/foreman/internal/store"
)

// File is the top-level backlog document.
type File struct {
	Features []Entry `yaml:"features"`
}

// Entry is one feature definition. DependsOn entries may be the name of
// another entry in the same file or the numeric ID of an existing feature.
type Entry struct {
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	Priority    int      `yaml:"priority"`
	Description string   `yaml:"description"`
	Steps       []string `yaml:"steps"`
	DependsOn   []string `yaml:"depends_on"`
}

// Parse decodes a backlog document and resolves in-file name references to
// batch-relative markers understood by the store's bulk create.
func Parse(data []byte) ([]store.NewFeature, error) {
	var doc File
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse backlog: %w", err)
	}
	if len(doc.Features) == 0 {
		return nil, fmt.Errorf("backlog defines no features")
	}

	index := make(map[string]int, len(doc.Features))
	for i, e := range doc.Features {
		if e.Name == "" {
			return nil, fmt.Errorf("feature %d has no name", i+1)
		}
		if _, dup := index[e.Name]; dup {
			return nil, fmt.Errorf("duplicate feature name %q", e.Name)
		}
		index[e.Name] = i
	}

	batch := make([]store.NewFeature, len(doc.Features))
	for i, e := range doc.Features {
		nf := store.NewFeature{
			Priority:    e.Priority,
			Category:    e.Category,
			Name:        e.Name,
			Description: e.Description,
			Steps:       e.Steps,
		}
		for _, ref := range e.DependsOn {
			dep, err := resolveRef(ref, index)
			if err != nil {
				return nil, fmt.Errorf("feature %q: %w", e.Name, err)
			}
			nf.Dependencies = append(nf.Dependencies, dep)
		}
		batch[i] = nf
	}
	return batch, nil
}

// resolveRef maps a depends_on entry to either an existing feature ID or a
// batch-relative marker -(n+1) for the nth in-file feature.
func resolveRef(ref string, index map[string]int) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if id <= 0 {
			return 0, fmt.Errorf("dependency id %d must be positive", id)
		}
		return id, nil
	}
	if i, ok := index[ref]; ok {
		return -int64(i + 1), nil
	}
	return 0, fmt.Errorf("dependency %q names no feature in this file", ref)
}

// Import reads a backlog file and creates its features in one transaction,
// returning the assigned IDs in file order.
func Import(st *store.Store, path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backlog file: %w", err)
	}

	batch, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return st.CreateFeatures(batch)
}
