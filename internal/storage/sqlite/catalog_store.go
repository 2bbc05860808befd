package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/aula/internal/domain"
)

// CatalogStore persists the exercise catalog and content versions in SQLite.
type CatalogStore struct {
	db *DB
}

// NewCatalogStore creates a new SQLite-backed catalog store.
func NewCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// SaveProgram upserts a program.
func (s *CatalogStore) SaveProgram(ctx context.Context, p *domain.Program) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO programa (id, name, description) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description`,
		p.ID, p.Name, p.Description)
	if err != nil {
		return fmt.Errorf("upsert program: %w", err)
	}
	return nil
}

// SavePhase upserts a phase.
func (s *CatalogStore) SavePhase(ctx context.Context, p *domain.Phase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fase (id, programa_id, name, description) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			programa_id=excluded.programa_id, name=excluded.name, description=excluded.description`,
		p.ID, p.ProgramID, p.Name, p.Description)
	if err != nil {
		return fmt.Errorf("upsert phase: %w", err)
	}
	return nil
}

// SaveUnit upserts a unit.
func (s *CatalogStore) SaveUnit(ctx context.Context, u *domain.Unit) error {
	objectives, err := json.Marshal(nonNil(u.Objectives))
	if err != nil {
		return fmt.Errorf("marshal objectives: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unidad (id, fase_id, name, description, objectives) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fase_id=excluded.fase_id, name=excluded.name,
			description=excluded.description, objectives=excluded.objectives`,
		u.ID, u.PhaseID, u.Name, u.Description, string(objectives))
	if err != nil {
		return fmt.Errorf("upsert unit: %w", err)
	}
	return nil
}

// SaveTemplate upserts an exercise template.
func (s *CatalogStore) SaveTemplate(ctx context.Context, t *domain.ExerciseTemplate) error {
	shadow, err := json.Marshal(t.Shadow)
	if err != nil {
		return fmt.Errorf("marshal shadow config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plantilla_ejercicio (id, name, kind, prompt_template, shadow) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, kind=excluded.kind,
			prompt_template=excluded.prompt_template, shadow=excluded.shadow`,
		t.ID, t.Name, t.Kind, t.PromptTemplate, string(shadow))
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// GetProgram retrieves a program by ID.
func (s *CatalogStore) GetProgram(ctx context.Context, id domain.RecordID) (*domain.Program, error) {
	var p domain.Program
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description FROM programa WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return nil, notFound(err, domain.ErrProgramNotFound, id)
	}
	return &p, nil
}

// GetPhase retrieves a phase by ID.
func (s *CatalogStore) GetPhase(ctx context.Context, id domain.RecordID) (*domain.Phase, error) {
	var p domain.Phase
	err := s.db.QueryRowContext(ctx,
		"SELECT id, programa_id, name, description FROM fase WHERE id = ?", id,
	).Scan(&p.ID, &p.ProgramID, &p.Name, &p.Description)
	if err != nil {
		return nil, notFound(err, domain.ErrPhaseNotFound, id)
	}
	return &p, nil
}

// GetUnit retrieves a unit by ID.
func (s *CatalogStore) GetUnit(ctx context.Context, id domain.RecordID) (*domain.Unit, error) {
	var u domain.Unit
	var objectives string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, fase_id, name, description, objectives FROM unidad WHERE id = ?", id,
	).Scan(&u.ID, &u.PhaseID, &u.Name, &u.Description, &objectives)
	if err != nil {
		return nil, notFound(err, domain.ErrUnitNotFound, id)
	}
	if err := json.Unmarshal([]byte(objectives), &u.Objectives); err != nil {
		return nil, fmt.Errorf("unmarshal objectives: %w", err)
	}
	return &u, nil
}

// GetTemplate retrieves an exercise template by ID.
func (s *CatalogStore) GetTemplate(ctx context.Context, id domain.RecordID) (*domain.ExerciseTemplate, error) {
	var t domain.ExerciseTemplate
	var shadow string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, kind, prompt_template, shadow FROM plantilla_ejercicio WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &t.Kind, &t.PromptTemplate, &shadow)
	if err != nil {
		return nil, notFound(err, domain.ErrTemplateNotFound, id)
	}
	if err := json.Unmarshal([]byte(shadow), &t.Shadow); err != nil {
		return nil, fmt.Errorf("unmarshal shadow config: %w", err)
	}
	return &t, nil
}

// SaveInstance upserts an exercise instance. The schema has no 'error'
// status, so storing one returns domain.ErrStatusRejected.
func (s *CatalogStore) SaveInstance(ctx context.Context, inst *domain.ExerciseInstance) error {
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exercise_instance (id, plantilla_id, unidad_id, position, mandatory,
			content_status, current_content_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plantilla_id=excluded.plantilla_id, unidad_id=excluded.unidad_id,
			position=excluded.position, mandatory=excluded.mandatory,
			content_status=excluded.content_status, current_content_id=excluded.current_content_id,
			updated_at=excluded.updated_at`,
		inst.ID, inst.TemplateID, inst.UnitID, inst.Order, inst.Mandatory,
		string(inst.ContentStatus), nullID(inst.CurrentContentID), inst.CreatedAt, now,
	)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: content_status %q", domain.ErrStatusRejected, inst.ContentStatus)
		}
		return fmt.Errorf("upsert instance: %w", err)
	}
	inst.UpdatedAt = now
	return nil
}

// GetInstance retrieves an exercise instance by ID.
func (s *CatalogStore) GetInstance(ctx context.Context, id domain.RecordID) (*domain.ExerciseInstance, error) {
	var inst domain.ExerciseInstance
	var status string
	var contentID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, plantilla_id, unidad_id, position, mandatory,
			content_status, current_content_id, created_at, updated_at
		FROM exercise_instance WHERE id = ?`, id,
	).Scan(&inst.ID, &inst.TemplateID, &inst.UnitID, &inst.Order, &inst.Mandatory,
		&status, &contentID, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrInstanceNotFound, id)
	}
	inst.ContentStatus = domain.ContentStatus(status)
	inst.CurrentContentID = domain.RecordID(contentID.String)
	return &inst, nil
}

// SaveContent upserts a content version.
func (s *CatalogStore) SaveContent(ctx context.Context, c *domain.ExerciseContent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exercise_content (id, instance_id, payload, version, state,
			generation_ref, tokens_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload=excluded.payload, state=excluded.state, updated_at=excluded.updated_at`,
		c.ID, c.InstanceID, string(c.Payload), c.Version, string(c.State),
		c.GenerationRef, c.TokensUsed, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: content version %d of %s already exists", domain.ErrInvalidState, c.Version, c.InstanceID)
		}
		return fmt.Errorf("upsert content: %w", err)
	}
	return nil
}

// GetContent retrieves a content version by ID.
func (s *CatalogStore) GetContent(ctx context.Context, id domain.RecordID) (*domain.ExerciseContent, error) {
	var c domain.ExerciseContent
	var payload, state string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, instance_id, payload, version, state, generation_ref, tokens_used, created_at, updated_at
		FROM exercise_content WHERE id = ?`, id,
	).Scan(&c.ID, &c.InstanceID, &payload, &c.Version, &state,
		&c.GenerationRef, &c.TokensUsed, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrContentNotFound, id)
	}
	c.Payload = json.RawMessage(payload)
	c.State = domain.ContentState(state)
	return &c, nil
}

// LatestContentVersion returns the highest stored version for an instance.
func (s *CatalogStore) LatestContentVersion(ctx context.Context, instanceID domain.RecordID) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM exercise_content WHERE instance_id = ?", instanceID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest content version: %w", err)
	}
	return version, nil
}

// notFound maps sql.ErrNoRows to the lookup error for id.
func notFound(err, lookup error, id domain.RecordID) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundf(lookup, id)
	}
	return fmt.Errorf("query %s: %w", id, err)
}

func nullID(id domain.RecordID) sql.NullString {
	if id.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: string(id), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
