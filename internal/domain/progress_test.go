package domain

import (
	"encoding/json"
	"sort"
	"testing"
	"time"
)

func TestProgressStatus_Locked(t *testing.T) {
	tests := map[ProgressStatus]bool{
		StatusNotStarted:        false,
		StatusInProgress:        false,
		StatusRequiresIteration: false,
		StatusPendingReview:     true,
		StatusGraded:            true,
	}
	for s, want := range tests {
		if got := s.Locked(); got != want {
			t.Errorf("%s.Locked() = %v, want %v", s, got, want)
		}
	}
}

func TestProgressStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to ProgressStatus
		want     bool
	}{
		{StatusNotStarted, StatusInProgress, true},
		{StatusNotStarted, StatusPendingReview, true},
		{StatusNotStarted, StatusGraded, false},
		{StatusInProgress, StatusInProgress, true},
		{StatusInProgress, StatusPendingReview, true},
		{StatusInProgress, StatusGraded, false},
		{StatusPendingReview, StatusGraded, true},
		{StatusPendingReview, StatusRequiresIteration, true},
		{StatusPendingReview, StatusInProgress, false},
		{StatusRequiresIteration, StatusInProgress, true},
		{StatusRequiresIteration, StatusPendingReview, true},
		{StatusGraded, StatusGraded, true},
		{StatusGraded, StatusInProgress, false},
		{StatusGraded, StatusPendingReview, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeProgressStatus(t *testing.T) {
	tests := []struct {
		name           string
		strict, legacy string
		want           ProgressStatus
	}{
		{"strict wins", "graded", "en_progreso", StatusGraded},
		{"strict alias", "submitted_for_review", "", StatusPendingReview},
		{"strict approved", "approved", "", StatusGraded},
		{"strict case folded", " Pending_Review ", "", StatusPendingReview},
		{"unknown strict falls to legacy", "bogus", "enviado", StatusPendingReview},
		{"legacy accents and case", "", "En Revisión", StatusPendingReview},
		{"legacy hyphen", "", "requiere-iteracion", StatusRequiresIteration},
		{"legacy graded", "", "Calificado", StatusGraded},
		{"legacy draft", "", "borrador", StatusInProgress},
		{"legacy holds strict value", "", "in_progress", StatusInProgress},
		{"nothing", "", "", StatusNotStarted},
		{"garbage", "x", "y", StatusNotStarted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeProgressStatus(tt.strict, tt.legacy); got != tt.want {
				t.Errorf("NormalizeProgressStatus(%q, %q) = %s, want %s", tt.strict, tt.legacy, got, tt.want)
			}
		})
	}
}

func TestLegacyLabel_RoundTrips(t *testing.T) {
	for _, s := range []ProgressStatus{StatusNotStarted, StatusInProgress, StatusPendingReview, StatusRequiresIteration, StatusGraded} {
		if got := NormalizeProgressStatus("", s.LegacyLabel()); got != s {
			t.Errorf("legacy label %q normalizes to %s, want %s", s.LegacyLabel(), got, s)
		}
	}
}

func TestNewExerciseProgress(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	key := ProgressKey{StudentID: "estudiante:s1", InstanceID: "exercise_instance:abc", CohortID: "cohorte:c1"}
	p := NewExerciseProgress(key, now)

	if p.ID.Table() != TableProgress {
		t.Errorf("ID = %s, want an exercise_progress id", p.ID)
	}
	if p.Status != StatusNotStarted || p.IsLocked() || p.HasSavedWork() {
		t.Errorf("new record = %+v", p)
	}
	if !p.CreatedAt.Equal(now) || !p.UpdatedAt.Equal(now) {
		t.Error("timestamps should be set to now")
	}
	if p.AIScore != nil || p.FinalScore != nil || p.Feedback != nil {
		t.Error("scores and feedback should start absent")
	}
}

func TestIsEmptyPayload(t *testing.T) {
	tests := map[string]bool{
		"":                   true,
		"null":               true,
		" {} ":               true,
		"[]":                 true,
		`""`:                 true,
		`{"respuesta":"x"}`:  false,
		`["a"]`:              false,
		`"texto"`:            false,
		"0":                  false,
	}
	for in, want := range tests {
		if got := IsEmptyPayload(json.RawMessage(in)); got != want {
			t.Errorf("IsEmptyPayload(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestClampScore(t *testing.T) {
	tests := map[int]int{-5: 0, 0: 0, 73: 73, 100: 100, 140: 100}
	for in, want := range tests {
		if got := ClampScore(in); got != want {
			t.Errorf("ClampScore(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestSignals_MetCriteriaIDs(t *testing.T) {
	s := Signals{MetCriteria: map[string]int{"c2": 4, "c1": 3}}
	ids := s.MetCriteriaIDs()
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("MetCriteriaIDs() = %v", ids)
	}
	if got := (Signals{}).MetCriteriaIDs(); got == nil || len(got) != 0 {
		t.Errorf("empty MetCriteriaIDs() = %v, want empty non-nil", got)
	}
}
