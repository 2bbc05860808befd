package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/queue"
)

var (
	listenQueue   string
	listenWorkers int
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Log events delivered through RabbitMQ",
	Long: `Consumes the grade queue (published grades only) or the audit queue
(every event) and logs each delivery. Requires events.rabbitmq_url or RABBITMQ_URL.`,
	RunE: runListen,
}

func queueName(name string) (string, error) {
	switch name {
	case "grades", queue.GradeQueueName:
		return queue.GradeQueueName, nil
	case "audit", queue.AuditQueueName:
		return queue.AuditQueueName, nil
	default:
		return "", fmt.Errorf("unknown queue %q (want grades or audit)", name)
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	if cfg.Events.RabbitMQURL == "" {
		return errors.New("no RabbitMQ URL configured (set RABBITMQ_URL)")
	}
	name, err := queueName(listenQueue)
	if err != nil {
		return err
	}

	conn, err := queue.NewConnection(cfg.Events.RabbitMQURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	consumerCfg := queue.DefaultConsumerConfig()
	consumerCfg.Queue = name
	consumerCfg.Workers = listenWorkers

	consumer := queue.NewConsumer(conn, logEvent, consumerCfg)
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	consumer.Stop()
	return nil
}

// logEvent writes one structured line per delivered event
func logEvent(ctx context.Context, event domain.Event) error {
	attrs := []any{
		"event_id", event.EventID(),
		"aggregate_id", event.AggregateID(),
		"occurred_at", event.OccurredAt(),
	}
	switch e := event.(type) {
	case domain.GradePublishedEvent:
		attrs = append(attrs, "student_id", e.StudentID, "instance_id", e.InstanceID, "final_score", e.FinalScore)
	case domain.SubmissionReceivedEvent:
		attrs = append(attrs, "student_id", e.StudentID, "ai_score", e.AIScore, "fallback", e.Fallback)
	case domain.ContentGeneratedEvent:
		attrs = append(attrs, "version", e.Version, "tokens_used", e.TokensUsed)
	}
	slog.InfoContext(ctx, event.EventType(), attrs...)
	return nil
}
