// Package app assembles the services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/aula/internal/config"
	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/eventlog"
	"github.com/felixgeelhaar/aula/internal/judge"
	"github.com/felixgeelhaar/aula/internal/llm"
	"github.com/felixgeelhaar/aula/internal/progress"
	"github.com/felixgeelhaar/aula/internal/queue"
	"github.com/felixgeelhaar/aula/internal/shadow"
	"github.com/felixgeelhaar/aula/internal/tutor"
)

// App holds the wired services and the resources they own.
type App struct {
	Config   *config.Config
	Registry *llm.Registry
	Events   *domain.EventDispatcher
	Storage  *Storage

	Content  *content.Service
	Progress *progress.Service
	Tutor    *tutor.Service

	closers []func() error
}

// New opens storage, registers providers and event sinks, and builds
// the services. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	storage, err := OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:  cfg,
		Storage: storage,
		Events:  domain.NewEventDispatcher(),
		closers: []func() error{storage.Close},
	}

	if err := storage.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Storage.CatalogPath != "" {
		if err := ImportCatalogFile(ctx, cfg.Storage.CatalogPath, storage.Catalog); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Registry = NewRegistry(cfg.LLM, cfg.Resilience)
	a.subscribe(cfg.Events)
	a.build(a.Registry.DefaultProvider())
	return a, nil
}

// build creates the services on top of storage and provider.
func (a *App) build(provider llm.Provider) {
	cfg := a.Config

	grader := judge.New(provider, judge.Config{
		MaxTokens:     cfg.Grading.JudgeMaxTokens,
		Temperature:   cfg.Grading.JudgeTemperature,
		Timeout:       seconds(cfg.Grading.JudgeTimeoutSeconds),
		MaxCriteria:   cfg.Grading.MaxCriteria,
		FallbackScore: cfg.Grading.FallbackScore,
	})
	monitor := shadow.NewMonitor(shadow.NewEvaluator(provider, shadow.Config{
		MaxTokens:      cfg.Shadow.MaxTokens,
		Timeout:        seconds(cfg.Shadow.TimeoutSeconds),
		MaxRecentTurns: cfg.Shadow.MaxRecentTurns,
	}))

	a.Content = content.NewService(a.Storage.Catalog, provider, a.Events, content.Config{
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Timeout:     seconds(cfg.Generation.TimeoutSeconds),
	})
	a.Progress = progress.NewService(a.Storage.Progress, a.Storage.Catalog, grader, a.Events, cfg.Grading.MaxCriteria)
	a.Tutor = tutor.NewService(a.Progress, a.Storage.Catalog, provider, monitor, tutor.Config{
		MaxTokens:   cfg.Tutor.MaxTokens,
		Temperature: cfg.Tutor.Temperature,
		Timeout:     seconds(cfg.Tutor.TimeoutSeconds),
		MaxCriteria: cfg.Grading.MaxCriteria,
	})
}

// subscribe attaches the event sinks. Optional sinks that cannot be
// reached are logged and skipped.
func (a *App) subscribe(cfg config.EventsConfig) {
	a.Events.Subscribe(domain.EventGradePublished, LogGradePublished)

	if cfg.RabbitMQURL != "" {
		conn, err := queue.NewConnection(cfg.RabbitMQURL)
		if err != nil {
			slog.Warn("event queue unavailable, grade events stay in-process", "error", err)
		} else {
			a.closers = append(a.closers, conn.Close)
			a.Events.SubscribeAll(queue.NewPublisher(conn).Handler())
		}
	}

	if cfg.EventLogURL != "" {
		audit, err := eventlog.Open(cfg.EventLogURL)
		if err != nil {
			slog.Warn("event log unavailable", "error", err)
		} else {
			a.closers = append(a.closers, audit.Close)
			a.Events.SubscribeAll(audit.Handler())
		}
	}
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}

// LogGradePublished records every published grade.
func LogGradePublished(event domain.Event) {
	e, ok := event.(domain.GradePublishedEvent)
	if !ok {
		return
	}
	slog.Info("grade published",
		"submission_id", e.SubmissionID,
		"student_id", e.StudentID,
		"instance_id", e.InstanceID,
		"final_score", e.FinalScore,
	)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
