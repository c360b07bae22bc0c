package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"qrattend/internal/queue"
	"qrattend/internal/store"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	got    chan struct{}
	fail   error
}

func newMemSink() *memSink {
	return &memSink{got: make(chan struct{}, 16)}
}

func (s *memSink) InsertScanEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, e)
	s.got <- struct{}{}
	return nil
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishAndConsume(t *testing.T) {
	log := zaptest.NewLogger(t)
	q := queue.NewInMemory(8)
	sink := newMemSink()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Consume(ctx, q, sink, log) }()

	sessionID := "s1"
	ip := "1.2.3.4"
	pub := NewPublisher(q, log)
	pub.Publish(context.Background(), Event{Token: "tok", SessionID: &sessionID, StudentID: "S1001", Outcome: "recorded", IPAddress: &ip})
	require.NoError(t, q.Publish(ctx, queue.Message{Type: MessageType, Body: []byte("{not json")}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "other", Body: []byte("{}")}))
	pub.Publish(context.Background(), Event{Token: "bad", Outcome: "invalid_token"})

	waitFor(t, sink.got)
	waitFor(t, sink.got)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, sink.events, 2)
	first := sink.events[0]
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.OccurredAt.IsZero())
	assert.Equal(t, "recorded", first.Outcome)
	require.NotNil(t, first.SessionID)
	assert.Equal(t, "s1", *first.SessionID)
	assert.Nil(t, sink.events[1].SessionID)
}

type failingQueue struct{ queue.Queue }

func (failingQueue) Publish(context.Context, queue.Message) error { return errors.New("down") }

func TestPublish_NeverFails(t *testing.T) {
	var nilPub *Publisher
	assert.NotPanics(t, func() { nilPub.Publish(context.Background(), Event{}) })

	pub := NewPublisher(failingQueue{}, zaptest.NewLogger(t))
	assert.NotPanics(t, func() { pub.Publish(context.Background(), Event{Outcome: "expired"}) })

	full := queue.NewInMemory(1)
	pub = NewPublisher(full, nil)
	pub.Publish(context.Background(), Event{Outcome: "recorded"})
	pub.Publish(context.Background(), Event{Outcome: "recorded"}) // dropped, queue full

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub = NewPublisher(queue.NewInMemory(1), nil)
	pub.Publish(ctx, Event{Outcome: "recorded"})
}

func TestRepository_SQLite(t *testing.T) {
	db, err := store.NewDB("sqlite://" + filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	repo := NewRepository(db.Client)
	base := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertScanEvent(ctx, Event{ID: "e1", Token: "t", Outcome: "expired", OccurredAt: base}))
	require.NoError(t, repo.InsertScanEvent(ctx, Event{ID: "e2", Token: "t", StudentID: "S1", Outcome: "recorded", OccurredAt: base.Add(time.Minute)}))
	require.NoError(t, repo.InsertScanEvent(ctx, Event{ID: "e2", Token: "t", StudentID: "S1", Outcome: "recorded", OccurredAt: base.Add(time.Minute)}))

	events, err := repo.ListScanEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].ID)
	assert.Equal(t, "e1", events[1].ID)
}

func TestRepository_ListError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM scan_events ORDER BY occurred_at DESC LIMIT \$1`).
		WithArgs(50).
		WillReturnError(errors.New("db down"))

	_, err = NewRepository(db).ListScanEvents(context.Background(), 50)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
