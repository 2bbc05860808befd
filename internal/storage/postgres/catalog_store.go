package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/aula/internal/domain"
)

// CatalogStore persists the exercise catalog and content versions in PostgreSQL.
type CatalogStore struct {
	db *DB
}

// NewCatalogStore creates a new PostgreSQL catalog store
func NewCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// SaveProgram upserts a program
func (s *CatalogStore) SaveProgram(ctx context.Context, p *domain.Program) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO programa (id, name, description) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description`,
		p.ID, p.Name, p.Description)
	if err != nil {
		return fmt.Errorf("upsert program: %w", err)
	}
	return nil
}

// SavePhase upserts a phase
func (s *CatalogStore) SavePhase(ctx context.Context, p *domain.Phase) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO fase (id, programa_id, name, description) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			programa_id = EXCLUDED.programa_id, name = EXCLUDED.name, description = EXCLUDED.description`,
		p.ID, p.ProgramID, p.Name, p.Description)
	if err != nil {
		return fmt.Errorf("upsert phase: %w", err)
	}
	return nil
}

// SaveUnit upserts a unit
func (s *CatalogStore) SaveUnit(ctx context.Context, u *domain.Unit) error {
	objectives := u.Objectives
	if objectives == nil {
		objectives = []string{}
	}
	objectivesJSON, err := json.Marshal(objectives)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO unidad (id, fase_id, name, description, objectives) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			fase_id = EXCLUDED.fase_id, name = EXCLUDED.name,
			description = EXCLUDED.description, objectives = EXCLUDED.objectives`,
		u.ID, u.PhaseID, u.Name, u.Description, objectivesJSON)
	if err != nil {
		return fmt.Errorf("upsert unit: %w", err)
	}
	return nil
}

// SaveTemplate upserts an exercise template
func (s *CatalogStore) SaveTemplate(ctx context.Context, t *domain.ExerciseTemplate) error {
	shadowJSON, err := json.Marshal(t.Shadow)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO plantilla_ejercicio (id, name, kind, prompt_template, shadow) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, kind = EXCLUDED.kind,
			prompt_template = EXCLUDED.prompt_template, shadow = EXCLUDED.shadow`,
		t.ID, t.Name, t.Kind, t.PromptTemplate, shadowJSON)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// GetProgram retrieves a program by ID
func (s *CatalogStore) GetProgram(ctx context.Context, id domain.RecordID) (*domain.Program, error) {
	p := &domain.Program{}
	err := s.db.QueryRow(ctx, `SELECT id, name, description FROM programa WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return nil, notFound(err, domain.ErrProgramNotFound, id)
	}
	return p, nil
}

// GetPhase retrieves a phase by ID
func (s *CatalogStore) GetPhase(ctx context.Context, id domain.RecordID) (*domain.Phase, error) {
	p := &domain.Phase{}
	err := s.db.QueryRow(ctx, `SELECT id, programa_id, name, description FROM fase WHERE id = $1`, id).
		Scan(&p.ID, &p.ProgramID, &p.Name, &p.Description)
	if err != nil {
		return nil, notFound(err, domain.ErrPhaseNotFound, id)
	}
	return p, nil
}

// GetUnit retrieves a unit by ID
func (s *CatalogStore) GetUnit(ctx context.Context, id domain.RecordID) (*domain.Unit, error) {
	u := &domain.Unit{}
	var objectivesJSON []byte
	err := s.db.QueryRow(ctx, `SELECT id, fase_id, name, description, objectives FROM unidad WHERE id = $1`, id).
		Scan(&u.ID, &u.PhaseID, &u.Name, &u.Description, &objectivesJSON)
	if err != nil {
		return nil, notFound(err, domain.ErrUnitNotFound, id)
	}
	if err := json.Unmarshal(objectivesJSON, &u.Objectives); err != nil {
		return nil, fmt.Errorf("unmarshal objectives: %w", err)
	}
	return u, nil
}

// GetTemplate retrieves an exercise template by ID
func (s *CatalogStore) GetTemplate(ctx context.Context, id domain.RecordID) (*domain.ExerciseTemplate, error) {
	t := &domain.ExerciseTemplate{}
	var shadowJSON []byte
	err := s.db.QueryRow(ctx, `SELECT id, name, kind, prompt_template, shadow FROM plantilla_ejercicio WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Kind, &t.PromptTemplate, &shadowJSON)
	if err != nil {
		return nil, notFound(err, domain.ErrTemplateNotFound, id)
	}
	if err := json.Unmarshal(shadowJSON, &t.Shadow); err != nil {
		return nil, fmt.Errorf("unmarshal shadow config: %w", err)
	}
	return t, nil
}

// SaveInstance upserts an exercise instance. A status outside the
// content_status enum returns domain.ErrStatusRejected.
func (s *CatalogStore) SaveInstance(ctx context.Context, inst *domain.ExerciseInstance) error {
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	var contentID *string
	if !inst.CurrentContentID.IsZero() {
		id := string(inst.CurrentContentID)
		contentID = &id
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO exercise_instance (id, plantilla_id, unidad_id, position, mandatory,
			content_status, current_content_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			plantilla_id = EXCLUDED.plantilla_id, unidad_id = EXCLUDED.unidad_id,
			position = EXCLUDED.position, mandatory = EXCLUDED.mandatory,
			content_status = EXCLUDED.content_status, current_content_id = EXCLUDED.current_content_id,
			updated_at = EXCLUDED.updated_at`,
		inst.ID, inst.TemplateID, inst.UnitID, inst.Order, inst.Mandatory,
		string(inst.ContentStatus), contentID, inst.CreatedAt, now,
	)
	if err != nil {
		if isStatusRejected(err) {
			return fmt.Errorf("%w: content_status %q", domain.ErrStatusRejected, inst.ContentStatus)
		}
		return fmt.Errorf("upsert instance: %w", err)
	}
	inst.UpdatedAt = now
	return nil
}

// GetInstance retrieves an exercise instance by ID
func (s *CatalogStore) GetInstance(ctx context.Context, id domain.RecordID) (*domain.ExerciseInstance, error) {
	inst := &domain.ExerciseInstance{}
	var status string
	var contentID *string
	err := s.db.QueryRow(ctx, `
		SELECT id, plantilla_id, unidad_id, position, mandatory,
			content_status::text, current_content_id, created_at, updated_at
		FROM exercise_instance WHERE id = $1`, id,
	).Scan(&inst.ID, &inst.TemplateID, &inst.UnitID, &inst.Order, &inst.Mandatory,
		&status, &contentID, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrInstanceNotFound, id)
	}
	inst.ContentStatus = domain.ContentStatus(status)
	if contentID != nil {
		inst.CurrentContentID = domain.RecordID(*contentID)
	}
	return inst, nil
}

// SaveContent upserts a content version
func (s *CatalogStore) SaveContent(ctx context.Context, c *domain.ExerciseContent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO exercise_content (id, instance_id, payload, version, state,
			generation_ref, tokens_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		c.ID, c.InstanceID, []byte(c.Payload), c.Version, string(c.State),
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

// GetContent retrieves a content version by ID
func (s *CatalogStore) GetContent(ctx context.Context, id domain.RecordID) (*domain.ExerciseContent, error) {
	c := &domain.ExerciseContent{}
	var payload []byte
	var state string
	err := s.db.QueryRow(ctx, `
		SELECT id, instance_id, payload, version, state, generation_ref, tokens_used, created_at, updated_at
		FROM exercise_content WHERE id = $1`, id,
	).Scan(&c.ID, &c.InstanceID, &payload, &c.Version, &state,
		&c.GenerationRef, &c.TokensUsed, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrContentNotFound, id)
	}
	c.Payload = json.RawMessage(payload)
	c.State = domain.ContentState(state)
	return c, nil
}

// LatestContentVersion returns the highest stored version for an instance
func (s *CatalogStore) LatestContentVersion(ctx context.Context, instanceID domain.RecordID) (int, error) {
	var version int
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM exercise_content WHERE instance_id = $1`, instanceID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest content version: %w", err)
	}
	return version, nil
}
