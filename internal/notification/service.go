package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is one outbound notification. Delivery is best-effort: a
// failed sink is logged and never propagated to the financial path that
// produced the message.
type Message struct {
	Kind      string
	UserID    *uuid.UUID
	Subject   string
	Body      string
	CreatedAt time.Time
}

// Sink delivers a message to one channel (email, in-app, ops chat).
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// Service fans messages out to its sinks from a single consumer
// goroutine fed by a bounded queue. When the queue is full the message
// is dropped and logged rather than blocking the producer.
type Service struct {
	logger *zap.Logger
	sinks  []Sink
	queue  chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// NewService creates a notification service with the given buffer size.
func NewService(logger *zap.Logger, buffer int, sinks ...Sink) *Service {
	if buffer <= 0 {
		buffer = 256
	}
	return &Service{
		logger: logger,
		sinks:  sinks,
		queue:  make(chan Message, buffer),
		done:   make(chan struct{}),
	}
}

// Start launches the consumer loop. It returns once the queue is closed
// and drained.
func (s *Service) Start(ctx context.Context) {
	defer close(s.done)
	for msg := range s.queue {
		s.deliver(ctx, msg)
	}
}

// Enqueue queues a message without blocking. Returns false if the
// message was dropped.
func (s *Service) Enqueue(msg Message) bool {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	select {
	case s.queue <- msg:
		return true
	default:
		s.logger.Warn("notification queue full, dropping message",
			zap.String("kind", msg.Kind))
		return false
	}
}

// Close stops accepting messages and waits for the consumer to drain
// what was already queued.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.queue) })
	<-s.done
}

func (s *Service) deliver(ctx context.Context, msg Message) {
	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, msg); err != nil {
			s.logger.Warn("notification delivery failed",
				zap.String("kind", msg.Kind),
				zap.Error(err))
		}
	}
}

// LogSink writes notifications to the structured log. It is the default
// sink when no external channel is configured.
type LogSink struct {
	Logger *zap.Logger
}

func (l *LogSink) Deliver(_ context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("kind", msg.Kind),
		zap.String("subject", msg.Subject),
	}
	if msg.UserID != nil {
		fields = append(fields, zap.String("user_id", msg.UserID.String()))
	}
	l.Logger.Info("notification", fields...)
	return nil
}
