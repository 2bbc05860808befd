package progress

import (
	"context"
	"sort"
	"sync"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/judge"
)

// memStore is an in-memory Store and Catalog.
type memStore struct {
	mu        sync.Mutex
	records   map[domain.RecordID]domain.ExerciseProgress
	instances map[domain.RecordID]domain.ExerciseInstance
	templates map[domain.RecordID]domain.ExerciseTemplate
	contents  map[domain.RecordID]domain.ExerciseContent
	saves     int
}

func newMemStore() *memStore {
	return &memStore{
		records:   map[domain.RecordID]domain.ExerciseProgress{},
		instances: map[domain.RecordID]domain.ExerciseInstance{},
		templates: map[domain.RecordID]domain.ExerciseTemplate{},
		contents:  map[domain.RecordID]domain.ExerciseContent{},
	}
}

// publish installs a published instance with content.
func (m *memStore) publish(id domain.RecordID, payload string) {
	contentID := domain.RecordID("exercise_content:" + id.Key())
	m.templates["plantilla_ejercicio:t1"] = domain.ExerciseTemplate{ID: "plantilla_ejercicio:t1", Name: "Caso panadería"}
	m.contents[contentID] = domain.ExerciseContent{
		ID:         contentID,
		InstanceID: id,
		Payload:    []byte(payload),
		Version:    1,
		State:      domain.ContentStatePublished,
	}
	m.instances[id] = domain.ExerciseInstance{
		ID:               id,
		TemplateID:       "plantilla_ejercicio:t1",
		ContentStatus:    domain.ContentPublished,
		CurrentContentID: contentID,
	}
}

func (m *memStore) GetByKey(ctx context.Context, key domain.ProgressKey) (*domain.ExerciseProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Key == key {
			return &r, nil
		}
	}
	return nil, domain.ErrProgressNotFound
}

func (m *memStore) GetByID(ctx context.Context, id domain.RecordID) (*domain.ExerciseProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.NotFoundf(domain.ErrProgressNotFound, id)
	}
	return &r, nil
}

func (m *memStore) Create(ctx context.Context, p *domain.ExerciseProgress) (*domain.ExerciseProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Key == p.Key {
			return &r, nil
		}
	}
	m.records[p.ID] = *p
	out := *p
	return &out, nil
}

func (m *memStore) Save(ctx context.Context, p *domain.ExerciseProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[p.ID] = *p
	m.saves++
	return nil
}

func (m *memStore) ListPending(ctx context.Context, cohortID domain.RecordID) ([]*domain.ExerciseProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExerciseProgress
	for _, r := range m.records {
		if r.Key.CohortID == cohortID && r.Status == domain.StatusPendingReview {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(*out[j].SubmittedAt) })
	return out, nil
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
	t, ok := m.templates[id]
	if !ok {
		return nil, domain.NotFoundf(domain.ErrTemplateNotFound, id)
	}
	return &t, nil
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

// stubGrader returns a fixed verdict and records what it was asked.
// onGrade, when set, runs while the verdict is being produced.
type stubGrader struct {
	mu      sync.Mutex
	verdict judge.Verdict
	calls   int
	last    judge.Submission
	onGrade func()
}

func (g *stubGrader) Grade(ctx context.Context, sub judge.Submission) *judge.Verdict {
	g.mu.Lock()
	g.calls++
	g.last = sub
	v := g.verdict
	hook := g.onGrade
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &v
}
