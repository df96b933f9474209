// Package queue moves journal submissions through NATS JetStream. Publishing
// stamps the journal UUID as the message ID, so the broker deduplicates
// double submissions before a worker ever sees them.
package queue

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/errkind"
	"github.com/journal-graph-kernel/internal/jsonx"
)

const (
	streamName    = "JOURNALS"
	consumerGroup = "journal-workers"
	nakDelay      = 30 * time.Second
)

// Config holds the broker settings.
type Config struct {
	URL     string
	Subject string
}

// Handler processes one decoded journal submission.
type Handler func(ctx context.Context, in domain.SubmitInput) error

// Queue is a JetStream-backed submission queue.
type Queue struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	logger  *zap.Logger
}

// Connect dials the broker and ensures the journal stream exists.
func Connect(cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errkind.New(errkind.Config, "queue.connect", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, errkind.New(errkind.Config, "queue.connect", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{cfg.Subject},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		logger.Warn("stream bootstrap failed", zap.Error(err))
	}
	return &Queue{
		conn:    conn,
		js:      js,
		subject: cfg.Subject,
		logger:  logger.Named("queue"),
	}, nil
}

// SubmitJournal publishes one submission. The journal UUID doubles as the
// message ID so a resubmitted journal collapses to one delivery.
func (q *Queue) SubmitJournal(in domain.SubmitInput) error {
	data, err := jsonx.Marshal(in)
	if err != nil {
		return errkind.New(errkind.Consistency, "queue.submit", err)
	}
	_, err = q.js.Publish(q.subject, data, nats.MsgId(in.JournalUUID))
	if err != nil {
		return errkind.New(errkind.Transport, "queue.submit", err)
	}
	q.logger.Info("journal submitted",
		zap.String("journal", in.JournalUUID),
		zap.String("subject", q.subject))
	return nil
}

// ConsumeSubmissions starts a durable queue subscription. Each message is
// acked on success and redelivered after a delay on failure; the handler owns
// idempotence.
func (q *Queue) ConsumeSubmissions(ctx context.Context, handler Handler) (*nats.Subscription, error) {
	sub, err := q.js.QueueSubscribe(q.subject, consumerGroup, func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("panic in submission handler",
					zap.Any("panic", r), zap.Stack("stacktrace"))
				msg.NakWithDelay(nakDelay)
			}
		}()

		var in domain.SubmitInput
		if err := jsonx.Unmarshal(msg.Data, &in); err != nil {
			// A malformed message never becomes valid; drop it.
			q.logger.Error("dropping malformed submission", zap.Error(err))
			msg.Ack()
			return
		}
		if err := handler(ctx, in); err != nil {
			q.logger.Error("submission handling failed",
				zap.String("journal", in.JournalUUID), zap.Error(err))
			msg.NakWithDelay(nakDelay)
			return
		}
		msg.Ack()
	}, nats.Durable(consumerGroup), nats.ManualAck())
	if err != nil {
		return nil, errkind.New(errkind.Transport, "queue.consume", err)
	}
	q.logger.Info("consuming submissions", zap.String("subject", q.subject))
	return sub, nil
}

// Close drains the connection, letting in-flight messages finish.
func (q *Queue) Close() {
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
	}
}
