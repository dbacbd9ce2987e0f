package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// --- Agents ---

// SaveAgent inserts the agent, or replaces it when an agent with the same
// non-zero ID exists. Returns the stored ID.
func (s *Store) SaveAgent(ctx context.Context, a Agent) (int64, error) {
	if a.Subtype == "" {
		a.Subtype = SubtypeGeneric
	}
	return s.upsert(ctx, a.ID, `
		INSERT INTO agents (id, name, type, subtype, active, model, temperature, max_tokens, prompt_template, use_rag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type, subtype = excluded.subtype,
			active = excluded.active, model = excluded.model, temperature = excluded.temperature,
			max_tokens = excluded.max_tokens, prompt_template = excluded.prompt_template, use_rag = excluded.use_rag`,
		nullableID(a.ID), a.Name, a.Type, a.Subtype, a.Active, a.Model, a.Temperature, a.MaxTokens, a.PromptTemplate, a.UseRAG,
	)
}

func (s *Store) GetAgent(ctx context.Context, id int64) (Agent, error) {
	var a Agent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, subtype, active, model, temperature, max_tokens, prompt_template, use_rag
		FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Type, &a.Subtype, &a.Active, &a.Model, &a.Temperature, &a.MaxTokens, &a.PromptTemplate, &a.UseRAG)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	return a, err
}

func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, subtype, active, model, temperature, max_tokens, prompt_template, use_rag
		FROM agents ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Subtype, &a.Active, &a.Model, &a.Temperature, &a.MaxTokens, &a.PromptTemplate, &a.UseRAG); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// --- Departments & positions ---

func (s *Store) SaveDepartment(ctx context.Context, d Department) (int64, error) {
	return s.upsert(ctx, d.ID, `
		INSERT INTO departments (id, code, name, parent_id, level) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name,
			parent_id = excluded.parent_id, level = excluded.level`,
		nullableID(d.ID), d.Code, d.Name, d.ParentID, d.Level,
	)
}

func (s *Store) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, parent_id, level FROM departments ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.ParentID, &d.Level); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func (s *Store) SavePosition(ctx context.Context, p Position) (int64, error) {
	return s.upsert(ctx, p.ID, `
		INSERT INTO positions (id, department_id, name, level, can_approve, can_assign, holder_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET department_id = excluded.department_id, name = excluded.name,
			level = excluded.level, can_approve = excluded.can_approve, can_assign = excluded.can_assign,
			holder_id = excluded.holder_id`,
		nullableID(p.ID), p.DepartmentID, p.Name, p.Level, p.CanApprove, p.CanAssign, p.HolderID,
	)
}

func (s *Store) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, department_id, name, level, can_approve, can_assign, holder_id
		FROM positions ORDER BY department_id ASC, level ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.DepartmentID, &p.Name, &p.Level, &p.CanApprove, &p.CanAssign, &p.HolderID); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// --- Rules ---

func (s *Store) SaveRule(ctx context.Context, r Rule) (int64, error) {
	keywords := r.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	kw, err := json.Marshal(keywords)
	if err != nil {
		return 0, fmt.Errorf("marshalling keywords: %w", err)
	}
	return s.upsert(ctx, r.ID, `
		INSERT INTO org_rules (id, name, active, source_type, keywords, classification_type,
			department_id, position_id, agent_id, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active,
			source_type = excluded.source_type, keywords = excluded.keywords,
			classification_type = excluded.classification_type, department_id = excluded.department_id,
			position_id = excluded.position_id, agent_id = excluded.agent_id, sort_order = excluded.sort_order`,
		nullableID(r.ID), r.Name, r.Active, r.SourceType, string(kw), r.ClassificationType,
		r.DepartmentID, r.PositionID, r.AgentID, r.SortOrder,
	)
}

// ListRules returns all rules in evaluation order.
func (s *Store) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, active, source_type, keywords, classification_type,
			department_id, position_id, agent_id, sort_order
		FROM org_rules ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		var kw string
		if err := rows.Scan(&r.ID, &r.Name, &r.Active, &r.SourceType, &kw, &r.ClassificationType,
			&r.DepartmentID, &r.PositionID, &r.AgentID, &r.SortOrder); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(kw), &r.Keywords); err != nil {
			return nil, fmt.Errorf("parsing keywords for rule %d: %w", r.ID, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// --- Entity agent selection ---

func (s *Store) SetEntityAgent(ctx context.Context, ea EntityAgent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_agents (entity_type, purpose, agent_id) VALUES (?, ?, ?)
		ON CONFLICT(entity_type, purpose) DO UPDATE SET agent_id = excluded.agent_id`,
		ea.EntityType, ea.Purpose, ea.AgentID,
	)
	return err
}

func (s *Store) ListEntityAgents(ctx context.Context) ([]EntityAgent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_type, purpose, agent_id FROM entity_agents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityAgent
	for rows.Next() {
		var ea EntityAgent
		if err := rows.Scan(&ea.EntityType, &ea.Purpose, &ea.AgentID); err != nil {
			return nil, err
		}
		out = append(out, ea)
	}
	return out, rows.Err()
}

// upsert runs an INSERT ... ON CONFLICT statement whose first argument is the
// (possibly NULL) ID and returns the resulting row ID.
func (s *Store) upsert(ctx context.Context, id int64, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}
	return res.LastInsertId()
}

// nullableID maps a zero ID to NULL so SQLite assigns one.
func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
