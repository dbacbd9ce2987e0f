package orgconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kalambet/civicdesk/internal/storage"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout accepted by SeedFromFile.
type SeedFile struct {
	Departments  []storage.Department  `yaml:"departments"`
	Positions    []storage.Position    `yaml:"positions"`
	Agents       []storage.Agent       `yaml:"agents"`
	Rules        []storage.Rule        `yaml:"rules"`
	EntityAgents []storage.EntityAgent `yaml:"entity_agents"`
	Knowledge    []SeedDoc             `yaml:"knowledge"`
}

type SeedDoc struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Content string   `yaml:"content"`
	Source  string   `yaml:"source"`
	Tags    []string `yaml:"tags"`
}

// SeedStats counts what a seed wrote.
type SeedStats struct {
	Departments, Positions, Agents, Rules, EntityAgents, Knowledge int

	// NewDocIDs lists knowledge docs created by this seed, for indexing.
	NewDocIDs []string
	// ChangedDocIDs lists existing docs whose text or tags this seed
	// replaced. Their vectors are stale.
	ChangedDocIDs []string
}

func (s SeedStats) String() string {
	return fmt.Sprintf("%d departments, %d positions, %d agents, %d rules, %d entity agents, %d knowledge docs",
		s.Departments, s.Positions, s.Agents, s.Rules, s.EntityAgents, s.Knowledge)
}

// ParseSeed decodes a seed document. Unknown keys are rejected.
func ParseSeed(data []byte) (SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return SeedFile{}, fmt.Errorf("parsing seed: %w", err)
	}
	return f, nil
}

// SeedFromFile reads a YAML seed and upserts it into store. Records keep
// their IDs so re-seeding replaces rather than duplicates. Rules without a
// sort_order are ordered by their position in the file.
func SeedFromFile(ctx context.Context, store *storage.Store, path string) (SeedStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedStats{}, fmt.Errorf("reading seed file: %w", err)
	}
	f, err := ParseSeed(data)
	if err != nil {
		return SeedStats{}, err
	}
	return Seed(ctx, store, f)
}

func Seed(ctx context.Context, store *storage.Store, f SeedFile) (SeedStats, error) {
	var st SeedStats
	for _, d := range f.Departments {
		if _, err := store.SaveDepartment(ctx, d); err != nil {
			return st, fmt.Errorf("saving department %q: %w", d.Code, err)
		}
		st.Departments++
	}
	for _, p := range f.Positions {
		if _, err := store.SavePosition(ctx, p); err != nil {
			return st, fmt.Errorf("saving position %q: %w", p.Name, err)
		}
		st.Positions++
	}
	for _, a := range f.Agents {
		if _, err := store.SaveAgent(ctx, a); err != nil {
			return st, fmt.Errorf("saving agent %q: %w", a.Name, err)
		}
		st.Agents++
	}
	for i, r := range f.Rules {
		if r.SortOrder == 0 {
			r.SortOrder = i + 1
		}
		if _, err := store.SaveRule(ctx, r); err != nil {
			return st, fmt.Errorf("saving rule %q: %w", r.Name, err)
		}
		st.Rules++
	}
	for _, ea := range f.EntityAgents {
		if err := store.SetEntityAgent(ctx, ea); err != nil {
			return st, fmt.Errorf("saving entity agent %s/%s: %w", ea.EntityType, ea.Purpose, err)
		}
		st.EntityAgents++
	}
	for _, d := range f.Knowledge {
		tags := d.Tags
		if tags == nil {
			tags = []string{}
		}
		tj, err := json.Marshal(tags)
		if err != nil {
			return st, err
		}
		doc := storage.KnowledgeDoc{
			ID: d.ID, Title: d.Title, Content: d.Content, Source: d.Source, Tags: string(tj),
		}
		existing, err := store.GetKnowledgeDoc(ctx, d.ID)
		if err == nil {
			if sameDocText(existing, doc) {
				continue
			}
			if err := store.UpdateKnowledgeDoc(ctx, doc); err != nil {
				return st, fmt.Errorf("updating knowledge doc %q: %w", d.ID, err)
			}
			st.Knowledge++
			st.ChangedDocIDs = append(st.ChangedDocIDs, d.ID)
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return st, fmt.Errorf("loading knowledge doc %q: %w", d.ID, err)
		}
		if err := store.SaveKnowledgeDoc(ctx, doc); err != nil {
			return st, fmt.Errorf("saving knowledge doc %q: %w", d.ID, err)
		}
		st.Knowledge++
		st.NewDocIDs = append(st.NewDocIDs, d.ID)
	}
	return st, nil
}

func sameDocText(a, b storage.KnowledgeDoc) bool {
	return a.Title == b.Title && a.Content == b.Content && a.Source == b.Source && a.Tags == b.Tags
}
