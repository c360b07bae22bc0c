// Package audit keeps an append-only trail of scan attempts. Handlers publish
// events to a queue; a consumer writes them to the scan_events table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// MessageType tags scan events on the queue.
const MessageType = "scan"

// Event is one scan outcome.
type Event struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	SessionID  *string   `json:"session_id,omitempty"`
	StudentID  string    `json:"student_id"`
	Outcome    string    `json:"outcome"`
	IPAddress  *string   `json:"ip_address,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Repository stores events in the scan_events table.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertScanEvent writes e. Re-delivered events (same id) are ignored.
func (r *Repository) InsertScanEvent(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_events (id, token, session_id, student_id, outcome, ip_address, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.Token, e.SessionID, e.StudentID, e.Outcome, e.IPAddress, e.OccurredAt)
	if store.IsUniqueViolation(err) {
		return nil
	}
	return err
}

// ListScanEvents returns the most recent events first.
func (r *Repository) ListScanEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, token, session_id, student_id, outcome, ip_address, occurred_at
		FROM scan_events ORDER BY occurred_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Token, &e.SessionID, &e.StudentID, &e.Outcome, &e.IPAddress, &e.OccurredAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Publisher puts events on the queue. Failures are logged and counted, never returned.
type Publisher struct {
	q       queue.Queue
	log     *zap.Logger
	timeout time.Duration
}

func NewPublisher(q queue.Queue, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{q: q, log: log, timeout: 2 * time.Second}
}

// Publish enqueues e, filling in ID and OccurredAt when unset.
func (p *Publisher) Publish(ctx context.Context, e Event) {
	if p == nil || p.q == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		p.drop(e, err)
		return
	}
	// the event outlives a cancelled request
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		p.drop(e, err)
		return
	}
	metrics.AuditEvents.WithLabelValues("published").Inc()
}

func (p *Publisher) drop(e Event, err error) {
	metrics.AuditEvents.WithLabelValues("dropped").Inc()
	p.log.Warn("scan event dropped", zap.String("outcome", e.Outcome), zap.Error(err))
}

// Sink persists events.
type Sink interface {
	InsertScanEvent(ctx context.Context, e Event) error
}

// Consume drains q into sink until ctx is cancelled.
func Consume(ctx context.Context, q queue.Queue, sink Sink, log *zap.Logger) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for msg := range msgs {
		if msg.Type != MessageType {
			log.Debug("skipping message", zap.String("type", msg.Type))
			continue
		}
		var e Event
		if err := json.Unmarshal(msg.Body, &e); err != nil {
			metrics.AuditEvents.WithLabelValues("dropped").Inc()
			log.Warn("malformed scan event", zap.Error(err))
			continue
		}
		if err := sink.InsertScanEvent(ctx, e); err != nil {
			metrics.AuditEvents.WithLabelValues("dropped").Inc()
			log.Error("persist scan event", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		metrics.AuditEvents.WithLabelValues("persisted").Inc()
	}
	return nil
}
