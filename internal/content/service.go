// Package content drives exercise content generation and publication.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/llm"
	"github.com/felixgeelhaar/aula/internal/metrics"
)

// Config tunes generation calls
type Config struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   2048,
		Temperature: 0.7,
		Timeout:     90 * time.Second,
	}
}

// Result is an instance together with its current content.
type Result struct {
	Instance   *domain.ExerciseInstance
	Content    *domain.ExerciseContent
	TokensUsed int
	Cached     bool // existing content returned without a generation call
}

// Service handles content generation operations
type Service struct {
	store     Store
	generator llm.Provider
	events    *domain.EventDispatcher
	cfg       Config
	now       func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[domain.RecordID]bool
}

// NewService creates a new content service. events may be nil.
func NewService(store Store, generator llm.Provider, events *domain.EventDispatcher, cfg Config) *Service {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Service{
		store:     store,
		generator: generator,
		events:    events,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		inflight:  make(map[domain.RecordID]bool),
	}
}

// Generate returns the instance's content, generating it when absent or
// when force is set. Concurrent unforced calls for one instance share a
// single generation, which keeps running when the caller that started it
// goes away. A forced call while a generation is running fails with
// domain.ErrGenerationInProgress.
func (s *Service) Generate(ctx context.Context, instanceID domain.RecordID, force bool) (*Result, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}

	if !force && inst.HasContent() {
		return s.cached(ctx, inst)
	}
	if force && s.isInflight(instanceID) {
		return nil, domain.ErrGenerationInProgress
	}

	// The shared generation outlives the caller that started it; cfg.Timeout
	// bounds it instead. Each caller stops waiting on its own ctx.
	ch := s.group.DoChan(string(instanceID), func() (any, error) {
		s.setInflight(instanceID, true)
		defer s.setInflight(instanceID, false)
		return s.generate(context.WithoutCancel(ctx), instanceID, force)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.RecordGeneration(metrics.OutcomeJoined)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	}
}

func (s *Service) cached(ctx context.Context, inst *domain.ExerciseInstance) (*Result, error) {
	c, err := s.store.GetContent(ctx, inst.CurrentContentID)
	if err != nil {
		return nil, fmt.Errorf("load content %s: %w", inst.CurrentContentID, err)
	}
	metrics.RecordGeneration(metrics.OutcomeCached)
	return &Result{Instance: inst, Content: c, Cached: true}, nil
}

func (s *Service) generate(ctx context.Context, instanceID domain.RecordID, force bool) (*Result, error) {
	// Reload: a call that just finished may have produced content.
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	if !force && inst.HasContent() {
		return s.cached(ctx, inst)
	}

	anc, err := s.loadAncestry(ctx, inst)
	if err != nil {
		return nil, err
	}

	if force && (inst.ContentStatus != domain.ContentUnset || inst.HasContent()) {
		inst.ContentStatus = domain.ContentUnset
		inst.CurrentContentID = ""
		inst.UpdatedAt = s.now()
		if err := s.store.SaveInstance(ctx, inst); err != nil {
			return nil, fmt.Errorf("reset instance: %w", err)
		}
	}

	inst.ContentStatus = domain.ContentGenerating
	inst.UpdatedAt = s.now()
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("mark generating: %w", err)
	}

	c, err := s.produce(ctx, inst, anc)
	if err != nil {
		s.markFailed(ctx, inst, err)
		metrics.RecordGeneration(metrics.OutcomeFailed)
		return nil, err
	}

	metrics.RecordGeneration(metrics.OutcomeOK)
	metrics.RecordTokens("generation", c.TokensUsed)
	if s.events != nil {
		s.events.Publish(domain.NewContentGeneratedEvent(c))
	}
	slog.Info("content generated",
		"instance_id", inst.ID,
		"content_id", c.ID,
		"version", c.Version,
		"tokens", c.TokensUsed)

	return &Result{Instance: inst, Content: c, TokensUsed: c.TokensUsed}, nil
}

// produce runs the completion and persists the new draft. Any error leaves
// the instance in generating for markFailed to repair.
func (s *Service) produce(ctx context.Context, inst *domain.ExerciseInstance, anc ancestry) (*domain.ExerciseContent, error) {
	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	resp, err := s.generator.Generate(callCtx, &llm.Request{
		System:      generationSystemPrompt,
		Messages:    []llm.Message{llm.UserMessage(buildPrompt(anc))},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate content: %v", domain.ErrExternalService, err)
	}

	raw, err := llm.ExtractObject(resp.Content)
	if err != nil || !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("%w: generated content is not a JSON object", domain.ErrMalformedResponse)
	}

	latest, err := s.store.LatestContentVersion(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("content version: %w", err)
	}

	now := s.now()
	c := &domain.ExerciseContent{
		ID:            domain.NewRecordID(domain.TableContent),
		InstanceID:    inst.ID,
		Payload:       json.RawMessage(raw),
		Version:       latest + 1,
		State:         domain.ContentStateDraft,
		GenerationRef: resp.ID,
		TokensUsed:    resp.Usage.Total(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.SaveContent(ctx, c); err != nil {
		return nil, fmt.Errorf("save content: %w", err)
	}

	inst.ContentStatus = domain.ContentDraft
	inst.CurrentContentID = c.ID
	inst.UpdatedAt = now
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("mark draft: %w", err)
	}
	return c, nil
}

// markFailed moves the instance out of generating. It tries the error
// status first and falls back to unset when the store rejects it. The
// writes ignore caller cancellation so a timed-out call cannot leave the
// instance stuck.
func (s *Service) markFailed(ctx context.Context, inst *domain.ExerciseInstance, cause error) {
	ctx = context.WithoutCancel(ctx)

	inst.ContentStatus = domain.ContentError
	inst.CurrentContentID = ""
	inst.UpdatedAt = s.now()
	err := s.store.SaveInstance(ctx, inst)
	if err == nil {
		slog.Warn("content generation failed", "instance_id", inst.ID, "status", inst.ContentStatus, "error", cause)
		return
	}
	if !errors.Is(err, domain.ErrStatusRejected) {
		slog.Warn("record generation error status", "instance_id", inst.ID, "error", err)
	}

	inst.ContentStatus = domain.ContentUnset
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		slog.Error("reset instance after failed generation", "instance_id", inst.ID, "error", err)
		return
	}
	slog.Warn("content generation failed", "instance_id", inst.ID, "status", inst.ContentStatus, "error", cause)
}

// loadAncestry fetches template, unit, phase and program. A missing link
// is a NotFound naming the missing record.
func (s *Service) loadAncestry(ctx context.Context, inst *domain.ExerciseInstance) (ancestry, error) {
	var a ancestry
	var err error

	if a.template, err = s.store.GetTemplate(ctx, inst.TemplateID); err != nil {
		return a, fmt.Errorf("load template %s: %w", inst.TemplateID, err)
	}
	if a.unit, err = s.store.GetUnit(ctx, inst.UnitID); err != nil {
		return a, fmt.Errorf("load unit %s: %w", inst.UnitID, err)
	}
	if a.phase, err = s.store.GetPhase(ctx, a.unit.PhaseID); err != nil {
		return a, fmt.Errorf("load phase %s: %w", a.unit.PhaseID, err)
	}
	if a.program, err = s.store.GetProgram(ctx, a.phase.ProgramID); err != nil {
		return a, fmt.Errorf("load program %s: %w", a.phase.ProgramID, err)
	}
	return a, nil
}

// Publish makes the current draft visible to students.
func (s *Service) Publish(ctx context.Context, instanceID domain.RecordID) (*Result, error) {
	inst, c, err := s.current(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.ContentStatus == domain.ContentPublished {
		return &Result{Instance: inst, Content: c}, nil
	}
	if !inst.ContentStatus.CanTransitionTo(domain.ContentPublished) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, inst.ContentStatus, domain.ContentPublished)
	}

	now := s.now()
	c.State = domain.ContentStatePublished
	c.UpdatedAt = now
	if err := s.store.SaveContent(ctx, c); err != nil {
		return nil, fmt.Errorf("save content: %w", err)
	}
	inst.ContentStatus = domain.ContentPublished
	inst.UpdatedAt = now
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("save instance: %w", err)
	}

	slog.Info("content published", "instance_id", inst.ID, "content_id", c.ID, "version", c.Version)
	return &Result{Instance: inst, Content: c}, nil
}

// Unpublish returns published content to draft so it can be edited again.
func (s *Service) Unpublish(ctx context.Context, instanceID domain.RecordID) (*Result, error) {
	inst, c, err := s.current(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.ContentStatus != domain.ContentPublished {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, inst.ContentStatus, domain.ContentDraft)
	}

	now := s.now()
	c.State = domain.ContentStateDraft
	c.UpdatedAt = now
	if err := s.store.SaveContent(ctx, c); err != nil {
		return nil, fmt.Errorf("save content: %w", err)
	}
	inst.ContentStatus = domain.ContentDraft
	inst.UpdatedAt = now
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("save instance: %w", err)
	}
	return &Result{Instance: inst, Content: c}, nil
}

// EditDraft stores an instructor edit as a new draft version. Published
// content is immutable.
func (s *Service) EditDraft(ctx context.Context, instanceID domain.RecordID, payload json.RawMessage) (*Result, error) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: content payload must be a JSON object", domain.ErrInvalidInput)
	}

	inst, c, err := s.current(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if c.IsPublished() || inst.ContentStatus != domain.ContentDraft {
		return nil, domain.ErrContentImmutable
	}

	latest, err := s.store.LatestContentVersion(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("content version: %w", err)
	}

	now := s.now()
	edited := &domain.ExerciseContent{
		ID:         domain.NewRecordID(domain.TableContent),
		InstanceID: inst.ID,
		Payload:    payload,
		Version:    latest + 1,
		State:      domain.ContentStateDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveContent(ctx, edited); err != nil {
		return nil, fmt.Errorf("save content: %w", err)
	}
	inst.CurrentContentID = edited.ID
	inst.UpdatedAt = now
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("save instance: %w", err)
	}
	return &Result{Instance: inst, Content: edited}, nil
}

// Get returns the instance and its current content, if any.
func (s *Service) Get(ctx context.Context, instanceID domain.RecordID) (*Result, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	res := &Result{Instance: inst}
	if inst.HasContent() {
		if res.Content, err = s.store.GetContent(ctx, inst.CurrentContentID); err != nil {
			return nil, fmt.Errorf("load content %s: %w", inst.CurrentContentID, err)
		}
	}
	return res, nil
}

func (s *Service) current(ctx context.Context, instanceID domain.RecordID) (*domain.ExerciseInstance, *domain.ExerciseContent, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	if !inst.HasContent() {
		return nil, nil, domain.ErrContentMissing
	}
	c, err := s.store.GetContent(ctx, inst.CurrentContentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load content %s: %w", inst.CurrentContentID, err)
	}
	return inst, c, nil
}

func (s *Service) isInflight(id domain.RecordID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id]
}

func (s *Service) setInflight(id domain.RecordID, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.inflight[id] = true
	} else {
		delete(s.inflight, id)
	}
}
