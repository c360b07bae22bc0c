package attendance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Admission failures. Handlers turn these into flash messages.
var (
	ErrInvalidToken  = errors.New("invalid session token")
	ErrExpired       = errors.New("session expired")
	ErrInactive      = errors.New("session no longer active")
	ErrAlreadyMarked = errors.New("attendance already marked for this session")
)

// Session is a named, time-boxed attendance window identified by Token.
type Session struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Token     string     `json:"token"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// Expired reports whether the session has an expiry strictly before now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Remaining is the time left before expiry, zero when expired or unbounded.
func (s Session) Remaining(now time.Time) time.Duration {
	if s.ExpiresAt == nil || s.Expired(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// Attendance is one student's mark in one session. Never updated.
type Attendance struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	RegNumber string    `json:"reg_number"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	IPAddress *string   `json:"ip_address,omitempty"`
}

// SessionAttendance pairs a session with its records for listings.
type SessionAttendance struct {
	Session Session      `json:"session"`
	Records []Attendance `json:"records"`
}

// SessionRequest is the admin form for create-or-renew.
type SessionRequest struct {
	Name            string `form:"session_name" json:"session_name" validate:"required,min=3,max=100"`
	DurationMinutes int    `form:"duration_minutes" json:"duration_minutes" validate:"required,min=1,max=120"`
}

// Submission is the student scan form.
type Submission struct {
	StudentID string `form:"student_id" json:"student_id" validate:"required,min=3,max=20"`
	RegNumber string `form:"reg_number" json:"reg_number" validate:"required,min=3,max=30"`
	Name      string `form:"name" json:"name" validate:"required,min=3,max=100"`
}

func (s *Submission) trim() {
	s.StudentID = strings.TrimSpace(s.StudentID)
	s.RegNumber = strings.TrimSpace(s.RegNumber)
	s.Name = strings.TrimSpace(s.Name)
}

// ValidationError carries per-field messages keyed by form field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewToken returns an unguessable, URL-safe session token (random UUIDv4).
func NewToken() string {
	return uuid.NewString()
}
