package content

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/llm"
)

// memStore is an in-memory Store. rejectError mimics a schema whose status
// enum lacks "error".
type memStore struct {
	mu          sync.Mutex
	instances   map[domain.RecordID]domain.ExerciseInstance
	templates   map[domain.RecordID]*domain.ExerciseTemplate
	units       map[domain.RecordID]*domain.Unit
	phases      map[domain.RecordID]*domain.Phase
	programs    map[domain.RecordID]*domain.Program
	contents    map[domain.RecordID]domain.ExerciseContent
	rejectError bool
	history     []domain.ContentStatus // every status saved, in order
}

func newMemStore() *memStore {
	return &memStore{
		instances: map[domain.RecordID]domain.ExerciseInstance{},
		templates: map[domain.RecordID]*domain.ExerciseTemplate{},
		units:     map[domain.RecordID]*domain.Unit{},
		phases:    map[domain.RecordID]*domain.Phase{},
		programs:  map[domain.RecordID]*domain.Program{},
		contents:  map[domain.RecordID]domain.ExerciseContent{},
	}
}

// seed installs a full catalog chain for one instance.
func (m *memStore) seed(instanceID domain.RecordID) {
	m.programs["programa:p1"] = &domain.Program{ID: "programa:p1", Name: "Emprendimiento"}
	m.phases["fase:f1"] = &domain.Phase{ID: "fase:f1", ProgramID: "programa:p1", Name: "Descubrimiento"}
	m.units["unidad:u1"] = &domain.Unit{ID: "unidad:u1", PhaseID: "fase:f1", Name: "Clientes", Objectives: []string{"Definir segmento"}}
	m.templates["plantilla_ejercicio:t1"] = &domain.ExerciseTemplate{ID: "plantilla_ejercicio:t1", Name: "Caso panadería", Kind: "caso"}
	m.instances[instanceID] = domain.ExerciseInstance{
		ID:            instanceID,
		TemplateID:    "plantilla_ejercicio:t1",
		UnitID:        "unidad:u1",
		ContentStatus: domain.ContentUnset,
	}
}

func (m *memStore) GetInstance(ctx context.Context, id domain.RecordID) (*domain.ExerciseInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, domain.NotFoundf(domain.ErrInstanceNotFound, id)
	}
	return &inst, nil
}

func (m *memStore) GetTemplate(ctx context.Context, id domain.RecordID) (*domain.ExerciseTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.templates[id]; ok {
		return t, nil
	}
	return nil, domain.NotFoundf(domain.ErrTemplateNotFound, id)
}

func (m *memStore) GetUnit(ctx context.Context, id domain.RecordID) (*domain.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.units[id]; ok {
		return u, nil
	}
	return nil, domain.NotFoundf(domain.ErrUnitNotFound, id)
}

func (m *memStore) GetPhase(ctx context.Context, id domain.RecordID) (*domain.Phase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.phases[id]; ok {
		return p, nil
	}
	return nil, domain.NotFoundf(domain.ErrPhaseNotFound, id)
}

func (m *memStore) GetProgram(ctx context.Context, id domain.RecordID) (*domain.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.programs[id]; ok {
		return p, nil
	}
	return nil, domain.NotFoundf(domain.ErrProgramNotFound, id)
}

func (m *memStore) SaveInstance(ctx context.Context, inst *domain.ExerciseInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectError && inst.ContentStatus == domain.ContentError {
		return domain.ErrStatusRejected
	}
	m.instances[inst.ID] = *inst
	m.history = append(m.history, inst.ContentStatus)
	return nil
}

func (m *memStore) SaveContent(ctx context.Context, c *domain.ExerciseContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents[c.ID] = *c
	return nil
}

func (m *memStore) GetContent(ctx context.Context, id domain.RecordID) (*domain.ExerciseContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return nil, domain.NotFoundf(domain.ErrContentNotFound, id)
	}
	return &c, nil
}

func (m *memStore) LatestContentVersion(ctx context.Context, instanceID domain.RecordID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := 0
	for _, c := range m.contents {
		if c.InstanceID == instanceID && c.Version > latest {
			latest = c.Version
		}
	}
	return latest, nil
}

func (m *memStore) instance(id domain.RecordID) domain.ExerciseInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[id]
}

// mockGenerator is a test completion provider. When gate is non-nil each
// call blocks until it is closed.
type mockGenerator struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
	gate    chan struct{}
	started chan struct{}
	lastReq *llm.Request
}

func (g *mockGenerator) Name() string { return "mock" }

func (g *mockGenerator) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	g.calls++
	g.lastReq = req
	gate, started := g.gate, g.started
	g.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Response{
		ID:      "gen-1",
		Content: g.content,
		Usage:   llm.Usage{InputTokens: 300, OutputTokens: 200},
	}, nil
}

func (g *mockGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
