package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/aula/internal/domain"
)

var testKey = domain.ProgressKey{
	StudentID:  "estudiante:s1",
	InstanceID: "exercise_instance:abc",
	CohortID:   "cohorte:c1",
}

func newProgressFixture(t *testing.T) (*ProgressStore, *DB) {
	t.Helper()
	db := openTestDB(t)
	seedCatalog(t, NewCatalogStore(db))
	return NewProgressStore(db), db
}

func TestProgressStore_CreateIsInsertIfAbsent(t *testing.T) {
	store, _ := newProgressFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := domain.NewExerciseProgress(testKey, now)
	got, err := store.Create(ctx, first)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("ID = %s, want %s", got.ID, first.ID)
	}

	second := domain.NewExerciseProgress(testKey, now)
	got, err = store.Create(ctx, second)
	if err != nil {
		t.Fatalf("second Create() error = %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("second Create returned %s, want existing %s", got.ID, first.ID)
	}
}

func TestProgressStore_SaveRoundTrip(t *testing.T) {
	store, db := newProgressFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := domain.NewExerciseProgress(testKey, now)
	p.Status = domain.StatusPendingReview
	p.Completion = 100
	p.SavedWork = []byte(`{"respuesta":"final"}`)
	p.Attempts = 1
	p.AIScore = domain.IntPtr(72)
	p.FinalScore = domain.IntPtr(72)
	p.Feedback = &domain.Feedback{Summary: "Bien", Strengths: []string{"a"}, Improvements: []string{}, RubricAlignment: 70, Raw: map[string]any{"score": float64(72)}}
	p.Signals = domain.Signals{MetCriteria: map[string]int{"c1": 4}, InsightCount: 2, TurnCount: 5}
	p.SubmittedAt = domain.TimePtr(now)
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusPendingReview {
		t.Errorf("Status = %s, want pending_review", got.Status)
	}
	if got.AIScore == nil || *got.AIScore != 72 || got.InstructorScore != nil {
		t.Errorf("scores = %v/%v", got.AIScore, got.InstructorScore)
	}
	if got.Feedback == nil || got.Feedback.Summary != "Bien" {
		t.Errorf("Feedback = %+v", got.Feedback)
	}
	if got.Signals.MetCriteria["c1"] != 4 || got.Signals.TurnCount != 5 {
		t.Errorf("Signals = %+v", got.Signals)
	}
	if got.SubmittedAt == nil || !got.SubmittedAt.Equal(now) {
		t.Errorf("SubmittedAt = %v, want %v", got.SubmittedAt, now)
	}
	if got.GradedAt != nil {
		t.Error("GradedAt should stay NULL")
	}

	var estado string
	if err := db.QueryRow("SELECT estado FROM exercise_progress WHERE id = ?", p.ID).Scan(&estado); err != nil {
		t.Fatalf("query estado: %v", err)
	}
	if estado != "enviado" {
		t.Errorf("estado = %q, want enviado", estado)
	}
}

func TestProgressStore_NormalizesLegacyRows(t *testing.T) {
	store, db := newProgressFixture(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO exercise_progress (id, student_id, instance_id, cohort_id, status, estado, submitted_at)
		VALUES ('exercise_progress:legacy', 'estudiante:s9', 'exercise_instance:abc', 'cohorte:c1', NULL, 'Entregado', ?)`,
		time.Now().UTC())
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	got, err := store.GetByID(ctx, "exercise_progress:legacy")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusPendingReview {
		t.Errorf("Status = %s, want pending_review from legacy label", got.Status)
	}

	pending, err := store.ListPending(ctx, "cohorte:c1")
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "exercise_progress:legacy" {
		t.Errorf("ListPending() = %v", pending)
	}
}

func TestProgressStore_ListPendingOrder(t *testing.T) {
	store, _ := newProgressFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, student := range []domain.RecordID{"estudiante:late", "estudiante:early", "estudiante:draft"} {
		key := testKey
		key.StudentID = student
		p := domain.NewExerciseProgress(key, base)
		p.Status = domain.StatusPendingReview
		switch i {
		case 0:
			p.SubmittedAt = domain.TimePtr(base.Add(time.Hour))
		case 1:
			p.SubmittedAt = domain.TimePtr(base)
		case 2:
			p.Status = domain.StatusInProgress
		}
		if err := store.Save(ctx, p); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	pending, err := store.ListPending(ctx, "cohorte:c1")
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].Key.StudentID != "estudiante:early" {
		t.Errorf("first = %s, want estudiante:early", pending[0].Key.StudentID)
	}
}

func TestProgressStore_GetByKey_NotFound(t *testing.T) {
	store, _ := newProgressFixture(t)
	_, err := store.GetByKey(context.Background(), testKey)
	if !errors.Is(err, domain.ErrProgressNotFound) {
		t.Errorf("GetByKey() error = %v, want ErrProgressNotFound", err)
	}
}
