package attendance

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"qrattend/internal/store"
)

func newSQLiteService(t *testing.T, now func() time.Time) (*Service, *Repository) {
	db, err := store.NewDB("sqlite://" + filepath.Join(t.TempDir(), "attendance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	repo := NewRepository(db.Client)
	return NewService(repo, zap.NewNop(), WithClock(now)), repo
}

func TestSQLite_SessionLifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)}
	svc, repo := newSQLiteService(t, clock.Now)
	ctx := context.Background()

	first, err := svc.CreateOrRenewSession(ctx, "CS101", 5)
	require.NoError(t, err)

	stored, err := repo.SessionByToken(ctx, first.Token)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, first.ID, stored.ID)
	assert.True(t, stored.ExpiresAt.Equal(*first.ExpiresAt))

	clock.Advance(6 * time.Minute)
	_, err = svc.ValidateScan(ctx, first.Token)
	assert.ErrorIs(t, err, ErrExpired)

	renewed, err := svc.CreateOrRenewSession(ctx, "CS101", 10)
	require.NoError(t, err)
	assert.Equal(t, first.Token, renewed.Token)

	_, err = svc.ValidateScan(ctx, first.Token)
	assert.NoError(t, err)

	sessions, err := repo.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSQLite_ConcurrentSubmissions(t *testing.T) {
	svc, repo := newSQLiteService(t, time.Now)
	ctx := context.Background()

	sess, err := svc.CreateOrRenewSession(ctx, "CS101", 30)
	require.NoError(t, err)

	const workers = 10
	errs := make([]error, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.RecordAttendance(ctx, sess, validSubmission(), "127.0.0.1:9000", "")
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyMarked)
	}
	assert.Equal(t, 1, successes)

	recs, err := repo.ListAttendance(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S1001", recs[0].StudentID)
}

func TestSQLite_ConstraintIsAuthoritative(t *testing.T) {
	svc, repo := newSQLiteService(t, time.Now)
	ctx := context.Background()

	sess, err := svc.CreateOrRenewSession(ctx, "CS101", 30)
	require.NoError(t, err)

	rec := Attendance{ID: "a1", SessionID: sess.ID, StudentID: "S1001", RegNumber: "REG-1", Name: "Ada", Timestamp: time.Now().UTC()}
	require.NoError(t, repo.InsertAttendance(ctx, rec))

	rec.ID = "a2"
	err = repo.InsertAttendance(ctx, rec)
	assert.ErrorIs(t, err, store.ErrUniqueViolation)
}
