package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattend/internal/metrics"
	"qrattend/internal/store"
)

// Store is the persistence the service needs. *Repository implements it.
type Store interface {
	SessionByName(ctx context.Context, name string) (*Session, error)
	SessionByToken(ctx context.Context, token string) (*Session, error)
	InsertSession(ctx context.Context, s Session) error
	RenewSession(ctx context.Context, id string, expiresAt time.Time) error
	ListSessions(ctx context.Context) ([]Session, error)
	FindAttendance(ctx context.Context, sessionID, studentID string) (*Attendance, error)
	InsertAttendance(ctx context.Context, a Attendance) error
	ListAttendance(ctx context.Context) ([]Attendance, error)
}

// Service runs the session lifecycle and the admission gate.
type Service struct {
	store    Store
	log      *zap.Logger
	now      func() time.Time
	validate *validator.Validate
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service backed by a store.
func NewService(st Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:    st,
		log:      log,
		now:      time.Now,
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// CreateOrRenewSession creates the named session, or refreshes its expiry
// and active flag if it already exists. The token of an existing session is kept.
func (s *Service) CreateOrRenewSession(ctx context.Context, name string, durationMinutes int) (Session, error) {
	req := SessionRequest{Name: strings.TrimSpace(name), DurationMinutes: durationMinutes}
	if err := validateStruct(s.validate, req); err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	expiresAt := now.Add(time.Duration(req.DurationMinutes) * time.Minute)

	existing, err := s.store.SessionByName(ctx, req.Name)
	if err != nil {
		return Session{}, fmt.Errorf("lookup session %q: %w", req.Name, err)
	}
	if existing != nil {
		return s.renew(ctx, *existing, expiresAt)
	}

	sess := Session{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Token:     NewToken(),
		CreatedAt: now,
		ExpiresAt: &expiresAt,
		IsActive:  true,
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		if !store.IsUniqueViolation(err) {
			return Session{}, fmt.Errorf("create session %q: %w", req.Name, err)
		}
		// lost a race with a concurrent create of the same name
		existing, lookupErr := s.store.SessionByName(ctx, req.Name)
		if lookupErr != nil {
			return Session{}, fmt.Errorf("reread session %q after conflict: %w", req.Name, lookupErr)
		}
		if existing == nil {
			return Session{}, fmt.Errorf("create session %q: %w", req.Name, err)
		}
		return s.renew(ctx, *existing, expiresAt)
	}

	metrics.SessionsTotal.WithLabelValues("created").Inc()
	s.log.Info("session created",
		zap.String("session", sess.Name),
		zap.String("session_id", sess.ID),
		zap.Time("expires_at", expiresAt))
	return sess, nil
}

func (s *Service) renew(ctx context.Context, sess Session, expiresAt time.Time) (Session, error) {
	if err := s.store.RenewSession(ctx, sess.ID, expiresAt); err != nil {
		return Session{}, fmt.Errorf("renew session %q: %w", sess.Name, err)
	}
	sess.ExpiresAt = &expiresAt
	sess.IsActive = true

	metrics.SessionsTotal.WithLabelValues("renewed").Inc()
	s.log.Info("session renewed",
		zap.String("session", sess.Name),
		zap.String("session_id", sess.ID),
		zap.Time("expires_at", expiresAt))
	return sess, nil
}

// ValidateScan resolves a token to a session that may accept attendance.
// Checks run in order: unknown token, expiry, active flag.
func (s *Service) ValidateScan(ctx context.Context, token string) (Session, error) {
	sess, err := s.store.SessionByToken(ctx, token)
	if err != nil {
		return Session{}, fmt.Errorf("lookup token: %w", err)
	}
	if sess == nil {
		return Session{}, s.reject(ErrInvalidToken, token)
	}
	if sess.Expired(s.now()) {
		return Session{}, s.reject(ErrExpired, token)
	}
	if !sess.IsActive {
		return Session{}, s.reject(ErrInactive, token)
	}
	return *sess, nil
}

func (s *Service) reject(err error, token string) error {
	metrics.ScanAttempts.WithLabelValues(Outcome(err)).Inc()
	s.log.Debug("scan rejected", zap.String("token", token), zap.Error(err))
	return err
}

// RecordAttendance writes one mark for sub in sess. The lookup beforehand only
// saves a write; the store's unique constraint is what guarantees one mark per student.
func (s *Service) RecordAttendance(ctx context.Context, sess Session, sub Submission, remoteAddr, forwardedFor string) (Attendance, error) {
	sub.trim()
	if err := validateStruct(s.validate, sub); err != nil {
		metrics.ScanAttempts.WithLabelValues(Outcome(err)).Inc()
		return Attendance{}, err
	}

	existing, err := s.store.FindAttendance(ctx, sess.ID, sub.StudentID)
	if err != nil {
		return Attendance{}, fmt.Errorf("lookup attendance: %w", err)
	}
	if existing != nil {
		return Attendance{}, s.reject(ErrAlreadyMarked, sess.Token)
	}

	var ip *string
	if addr := EffectiveClientAddr(remoteAddr, forwardedFor); addr != "" {
		ip = &addr
	}
	rec := Attendance{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		StudentID: sub.StudentID,
		RegNumber: sub.RegNumber,
		Name:      sub.Name,
		Timestamp: s.now().UTC(),
		IPAddress: ip,
	}
	if err := s.store.InsertAttendance(ctx, rec); err != nil {
		if store.IsUniqueViolation(err) {
			return Attendance{}, s.reject(ErrAlreadyMarked, sess.Token)
		}
		return Attendance{}, fmt.Errorf("record attendance: %w", err)
	}

	metrics.ScanAttempts.WithLabelValues(OutcomeRecorded).Inc()
	metrics.AttendanceRecorded.Inc()
	s.log.Info("attendance recorded",
		zap.String("session", sess.Name),
		zap.String("student_id", rec.StudentID),
		zap.Stringp("ip", rec.IPAddress))
	return rec, nil
}

// ListAttendance returns every session with its records.
func (s *Service) ListAttendance(ctx context.Context) ([]SessionAttendance, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	records, err := s.store.ListAttendance(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}

	bySession := make(map[string][]Attendance, len(sessions))
	for _, rec := range records {
		bySession[rec.SessionID] = append(bySession[rec.SessionID], rec)
	}
	out := make([]SessionAttendance, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionAttendance{Session: sess, Records: bySession[sess.ID]})
	}
	return out, nil
}

// Scan outcomes used for metrics and the audit trail.
const (
	OutcomeRecorded      = "recorded"
	OutcomeInvalidToken  = "invalid_token"
	OutcomeExpired       = "expired"
	OutcomeInactive      = "inactive"
	OutcomeAlreadyMarked = "already_marked"
	OutcomeInvalidInput  = "invalid_input"
	OutcomeError         = "error"
)

// Outcome names the result of a scan attempt from the error it produced.
func Outcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return OutcomeRecorded
	case errors.Is(err, ErrInvalidToken):
		return OutcomeInvalidToken
	case errors.Is(err, ErrExpired):
		return OutcomeExpired
	case errors.Is(err, ErrInactive):
		return OutcomeInactive
	case errors.Is(err, ErrAlreadyMarked):
		return OutcomeAlreadyMarked
	case errors.As(err, &verr):
		return OutcomeInvalidInput
	default:
		return OutcomeError
	}
}
