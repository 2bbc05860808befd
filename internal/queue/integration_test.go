//go:build integration

package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/felixgeelhaar/aula/internal/domain"
	"github.com/felixgeelhaar/aula/internal/queue"
)

// setupRabbitMQ creates a RabbitMQ container and returns a live connection
func setupRabbitMQ(t *testing.T) *queue.Connection {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get AMQP URL: %v", err)
	}

	conn, err := queue.NewConnection(amqpURL)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func progress() *domain.ExerciseProgress {
	return &domain.ExerciseProgress{
		ID:  "exercise_progress:1",
		Key: domain.ProgressKey{StudentID: "estudiante:s1", InstanceID: "exercise_instance:abc", CohortID: "cohorte:c1"},
	}
}

func TestIntegration_Connection_ConnectAndClose(t *testing.T) {
	conn := setupRabbitMQ(t)
	if !conn.IsConnected() {
		t.Error("expected connection to be active")
	}
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	if _, err := queue.NewConnection("amqp://invalid:5672"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestIntegration_GradeQueueReceivesOnlyGrades(t *testing.T) {
	conn := setupRabbitMQ(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []domain.Event
	done := make(chan struct{}, 4)
	consumer := queue.NewConsumer(conn, func(ctx context.Context, event domain.Event) error {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, queue.ConsumerConfig{Queue: queue.GradeQueueName, Workers: 1})

	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer consumer.Stop()

	publisher := queue.NewPublisher(conn)
	if err := publisher.Publish(ctx, domain.NewSubmissionReceivedEvent(progress(), 70, false)); err != nil {
		t.Fatalf("Publish(submission) error = %v", err)
	}
	if err := publisher.Publish(ctx, domain.NewGradePublishedEvent(progress(), 91)); err != nil {
		t.Fatalf("Publish(grade) error = %v", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for grade event")
	}
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("received %d events; want only the grade", len(got))
	}
	grade, ok := got[0].(domain.GradePublishedEvent)
	if !ok || grade.FinalScore != 91 {
		t.Errorf("event = %+v", got[0])
	}
}

func TestIntegration_AuditQueueReceivesAll(t *testing.T) {
	conn := setupRabbitMQ(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan string, 4)
	consumer := queue.NewConsumer(conn, func(ctx context.Context, event domain.Event) error {
		done <- event.EventType()
		return nil
	}, queue.DefaultConsumerConfig())
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer consumer.Stop()

	publisher := queue.NewPublisher(conn)
	content := &domain.ExerciseContent{ID: "exercise_content:v1", InstanceID: "exercise_instance:abc", Version: 1}
	for _, event := range []domain.Event{
		domain.NewContentGeneratedEvent(content),
		domain.NewGradePublishedEvent(progress(), 80),
	} {
		if err := publisher.Publish(ctx, event); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case typ := <-done:
			seen[typ] = true
		case <-ctx.Done():
			t.Fatalf("timed out; saw %v", seen)
		}
	}
}
