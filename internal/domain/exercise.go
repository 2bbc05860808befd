package domain

import (
	"encoding/json"
	"time"
)

// ContentStatus describes generation progress of one instance's content
type ContentStatus string

const (
	ContentUnset      ContentStatus = "unset"
	ContentGenerating ContentStatus = "generating"
	ContentDraft      ContentStatus = "draft"
	ContentPublished  ContentStatus = "published"

	// ContentError is written on generation failure. Stores with a narrower
	// enum reject it and the workflow falls back to ContentUnset.
	ContentError ContentStatus = "error"
)

// String returns the string representation
func (s ContentStatus) String() string {
	return string(s)
}

// Valid reports whether s is a known status.
func (s ContentStatus) Valid() bool {
	switch s {
	case ContentUnset, ContentGenerating, ContentDraft, ContentPublished, ContentError:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
// Any status may be reset to unset (forced regenerate).
func (s ContentStatus) CanTransitionTo(next ContentStatus) bool {
	if next == ContentUnset {
		return true
	}
	switch s {
	case ContentUnset, ContentError:
		return next == ContentGenerating
	case ContentGenerating:
		return next == ContentDraft || next == ContentError
	case ContentDraft:
		return next == ContentPublished
	case ContentPublished:
		return next == ContentDraft
	}
	return false
}

// Program is the top of the ancestor chain: program > phase > unit.
type Program struct {
	ID          RecordID
	Name        string
	Description string
}

// Phase groups units within a program
type Phase struct {
	ID          RecordID
	ProgramID   RecordID
	Name        string
	Description string
}

// Unit is a learning unit holding exercise instances
type Unit struct {
	ID          RecordID
	PhaseID     RecordID
	Name        string
	Objectives  []string
	Description string
}

// ExerciseTemplate is the reusable definition an instance is created from.
type ExerciseTemplate struct {
	ID             RecordID
	Name           string
	Kind           string // e.g. "ensayo", "caso", "socratico"
	PromptTemplate string // interpolated with ancestor context
	Shadow         ShadowConfig
}

// ShadowConfig configures side-channel evaluation for an exercise.
type ShadowConfig struct {
	CriteriaEnabled  bool `json:"criteria_enabled"`
	QualityEnabled   bool `json:"quality_enabled"`
	InsightsEnabled  bool `json:"insights_enabled"`
	CriteriaEvery    int  `json:"criteria_frequency"`
	QualityThreshold int  `json:"quality_threshold"`
}

// Defaults for ShadowConfig zero values.
const (
	DefaultCriteriaFrequency = 2
	DefaultQualityThreshold  = 3
)

// Frequency returns the criteria evaluation frequency, defaulting to 2.
func (c ShadowConfig) Frequency() int {
	if c.CriteriaEvery <= 0 {
		return DefaultCriteriaFrequency
	}
	return c.CriteriaEvery
}

// Threshold returns the quality threshold, defaulting to 3.
func (c ShadowConfig) Threshold() int {
	if c.QualityThreshold <= 0 {
		return DefaultQualityThreshold
	}
	return c.QualityThreshold
}

// ExerciseInstance is one template placed inside a unit
type ExerciseInstance struct {
	ID               RecordID
	TemplateID       RecordID
	UnitID           RecordID
	Order            int
	Mandatory        bool
	ContentStatus    ContentStatus
	CurrentContentID RecordID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasContent reports whether a content version is attached.
func (i *ExerciseInstance) HasContent() bool {
	return !i.CurrentContentID.IsZero()
}

// IsPublished reports whether students may work on the instance.
func (i *ExerciseInstance) IsPublished() bool {
	return i.ContentStatus == ContentPublished && i.HasContent()
}

// ContentState distinguishes editable drafts from immutable published content.
type ContentState string

const (
	ContentStateDraft     ContentState = "draft"
	ContentStatePublished ContentState = "published"
)

// ExerciseContent is one generated payload version
type ExerciseContent struct {
	ID            RecordID
	InstanceID    RecordID
	Payload       json.RawMessage
	Version       int
	State         ContentState
	GenerationRef string // provenance of the completion call, empty for manual edits
	TokensUsed    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsPublished reports whether the content is frozen
func (c *ExerciseContent) IsPublished() bool {
	return c.State == ContentStatePublished
}
