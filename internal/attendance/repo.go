package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qrattend/internal/store"
)

// Repository persists sessions and attendance in Postgres or SQLite.
// Placeholders are numbered in order of first use so the same text runs on both drivers.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, name, token, created_at, expires_at, is_active`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.Name, &s.Token, &s.CreatedAt, &s.ExpiresAt, &s.IsActive)
	return s, err
}

// SessionByName returns the session with the given name, or nil.
func (r *Repository) SessionByName(ctx context.Context, name string) (*Session, error) {
	return r.oneSession(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE name = $1`, name)
}

// SessionByToken returns the session with the given token, or nil.
func (r *Repository) SessionByToken(ctx context.Context, token string) (*Session, error) {
	return r.oneSession(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token)
}

func (r *Repository) oneSession(ctx context.Context, query string, arg string) (*Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// InsertSession writes a new session. A name or token collision yields store.ErrUniqueViolation.
func (r *Repository) InsertSession(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, token, created_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Name, s.Token, s.CreatedAt, s.ExpiresAt, s.IsActive)
	if store.IsUniqueViolation(err) {
		return fmt.Errorf("insert session %q: %w", s.Name, store.ErrUniqueViolation)
	}
	return err
}

// RenewSession pushes the expiry and reactivates the session. The token is untouched.
func (r *Repository) RenewSession(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET expires_at = $1, is_active = $2 WHERE id = $3
	`, expiresAt, true, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("renew session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// ListSessions returns every session, newest first.
func (r *Repository) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

const attendanceColumns = `id, session_id, student_id, reg_number, name, recorded_at, ip_address`

func scanAttendance(row interface{ Scan(...any) error }) (Attendance, error) {
	var a Attendance
	err := row.Scan(&a.ID, &a.SessionID, &a.StudentID, &a.RegNumber, &a.Name, &a.Timestamp, &a.IPAddress)
	return a, err
}

// FindAttendance returns the mark for (sessionID, studentID), or nil.
func (r *Repository) FindAttendance(ctx context.Context, sessionID, studentID string) (*Attendance, error) {
	a, err := scanAttendance(r.db.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendances WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// InsertAttendance writes a mark. The (session_id, student_id) constraint
// turns a concurrent duplicate into store.ErrUniqueViolation.
func (r *Repository) InsertAttendance(ctx context.Context, a Attendance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendances (id, session_id, student_id, reg_number, name, recorded_at, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.SessionID, a.StudentID, a.RegNumber, a.Name, a.Timestamp, a.IPAddress)
	if store.IsUniqueViolation(err) {
		return fmt.Errorf("insert attendance %s/%s: %w", a.SessionID, a.StudentID, store.ErrUniqueViolation)
	}
	return err
}

// ListAttendance returns every attendance record ordered by time.
func (r *Repository) ListAttendance(ctx context.Context) ([]Attendance, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+attendanceColumns+` FROM attendances ORDER BY recorded_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
