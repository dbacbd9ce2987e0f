// Package orgconfig holds the organization configuration the pipeline reads:
// agents, routing rules, departments, positions and per-entity agent
// selection. The pipeline only ever sees an immutable Snapshot.
package orgconfig

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/civicdesk/internal/storage"
)

// Source reads the stored configuration. Implemented by storage.Store.
type Source interface {
	ListAgents(ctx context.Context) ([]storage.Agent, error)
	ListRules(ctx context.Context) ([]storage.Rule, error)
	ListDepartments(ctx context.Context) ([]storage.Department, error)
	ListPositions(ctx context.Context) ([]storage.Position, error)
	ListEntityAgents(ctx context.Context) ([]storage.EntityAgent, error)
}

// Store hands out the current configuration snapshot.
type Store interface {
	Snapshot() *Snapshot
}

// Snapshot is a point-in-time copy of the configuration. Callers must not
// modify its slices.
type Snapshot struct {
	Agents       []storage.Agent
	Rules        []storage.Rule
	Departments  []storage.Department
	Positions    []storage.Position
	EntityAgents []storage.EntityAgent
	LoadedAt     time.Time
}

// Agent looks an agent up by ID.
func (s *Snapshot) Agent(id int64) (storage.Agent, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return storage.Agent{}, false
}

// ActiveRules returns active rules for sourceType in evaluation order.
func (s *Snapshot) ActiveRules(sourceType string) []storage.Rule {
	var out []storage.Rule
	for _, r := range s.Rules {
		if r.Active && r.SourceType == sourceType {
			out = append(out, r)
		}
	}
	return out
}

func (s *Snapshot) Department(id int64) (storage.Department, bool) {
	for _, d := range s.Departments {
		if d.ID == id {
			return d, true
		}
	}
	return storage.Department{}, false
}

func (s *Snapshot) DepartmentByCode(code string) (storage.Department, bool) {
	for _, d := range s.Departments {
		if strings.EqualFold(d.Code, code) {
			return d, true
		}
	}
	return storage.Department{}, false
}

func (s *Snapshot) Position(id int64) (storage.Position, bool) {
	for _, p := range s.Positions {
		if p.ID == id {
			return p, true
		}
	}
	return storage.Position{}, false
}

// Managers returns the department's positions that may assign work, most
// senior (lowest level) first.
func (s *Snapshot) Managers(departmentID int64) []storage.Position {
	var out []storage.Position
	for _, p := range s.Positions {
		if p.DepartmentID == departmentID && p.CanAssign {
			out = append(out, p)
		}
	}
	// Positions arrive ordered by level from storage; keep that for
	// hand-built snapshots too.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Level < out[j-1].Level; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Assignee returns the most senior managing position in the department that
// has a holder.
func (s *Snapshot) Assignee(departmentID int64) (storage.Position, bool) {
	for _, p := range s.Managers(departmentID) {
		if p.HolderID != "" {
			return p, true
		}
	}
	return storage.Position{}, false
}

// AgentFor resolves the agent handling purpose for entityType: the explicit
// entity-agent selection when it names an active agent, otherwise the first
// active agent of agentType with subtype purpose.
func (s *Snapshot) AgentFor(entityType, purpose, agentType string) (storage.Agent, bool) {
	for _, ea := range s.EntityAgents {
		if ea.EntityType == entityType && ea.Purpose == purpose {
			if a, ok := s.Agent(ea.AgentID); ok && a.Active {
				return a, true
			}
		}
	}
	for _, a := range s.Agents {
		if a.Active && a.Type == agentType && a.Subtype == purpose {
			return a, true
		}
	}
	return storage.Agent{}, false
}

// Manager caches the configuration read from a Source. Load must succeed
// once before Snapshot returns anything but an empty configuration.
type Manager struct {
	src Source
	now func() time.Time

	mu   sync.RWMutex
	snap *Snapshot
}

func NewManager(src Source) *Manager {
	return &Manager{src: src, now: time.Now, snap: &Snapshot{}}
}

// Load reads the whole configuration and swaps it in atomically. On error
// the previous snapshot stays in place.
func (m *Manager) Load(ctx context.Context) error {
	var (
		s   = &Snapshot{LoadedAt: m.now()}
		err error
	)
	if s.Agents, err = m.src.ListAgents(ctx); err != nil {
		return fmt.Errorf("loading agents: %w", err)
	}
	if s.Rules, err = m.src.ListRules(ctx); err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	if s.Departments, err = m.src.ListDepartments(ctx); err != nil {
		return fmt.Errorf("loading departments: %w", err)
	}
	if s.Positions, err = m.src.ListPositions(ctx); err != nil {
		return fmt.Errorf("loading positions: %w", err)
	}
	if s.EntityAgents, err = m.src.ListEntityAgents(ctx); err != nil {
		return fmt.Errorf("loading entity agents: %w", err)
	}

	m.mu.Lock()
	m.snap = s
	m.mu.Unlock()
	return nil
}

// Reload is Load under the name the API and CLI use.
func (m *Manager) Reload(ctx context.Context) error {
	return m.Load(ctx)
}

func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Agent implements agent.Directory over the current snapshot.
func (m *Manager) Agent(id int64) (storage.Agent, bool) {
	return m.Snapshot().Agent(id)
}

// Static serves a fixed snapshot.
type Static struct {
	Snap *Snapshot
}

func (s Static) Snapshot() *Snapshot { return s.Snap }

func (s Static) Agent(id int64) (storage.Agent, bool) { return s.Snap.Agent(id) }
