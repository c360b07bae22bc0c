package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Admin is a stored administrator account.
type Admin struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AdminStore persists admin accounts.
type AdminStore interface {
	AdminByUsername(ctx context.Context, username string) (*Admin, error)
	UpsertAdmin(ctx context.Context, a Admin) error
}

// AdminRepository is the SQL AdminStore.
type AdminRepository struct {
	db *sql.DB
}

func NewAdminRepository(db *sql.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

func (r *AdminRepository) AdminByUsername(ctx context.Context, username string) (*Admin, error) {
	var a Admin
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM admins WHERE username = $1
	`, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// UpsertAdmin inserts the account or replaces the password hash of an existing username.
func (r *AdminRepository) UpsertAdmin(ctx context.Context, a Admin) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET password_hash = excluded.password_hash
	`, a.ID, a.Username, a.PasswordHash, a.CreatedAt)
	return err
}

// Authenticator checks admin logins against stored bcrypt hashes.
type Authenticator struct {
	store           AdminStore
	defaultUsername string
	cost            int
	log             *zap.Logger
}

func NewAuthenticator(st AdminStore, defaultUsername string, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{store: st, defaultUsername: defaultUsername, cost: bcrypt.DefaultCost, log: log}
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (a *Authenticator) WithCost(cost int) *Authenticator {
	a.cost = cost
	return a
}

// EnsureAdmin makes the stored account match the configured password,
// creating it on first start and re-hashing when the password changed.
func (a *Authenticator) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" {
		username = a.defaultUsername
	}
	if password == "" {
		return errors.New("admin password must not be empty")
	}
	existing, err := a.store.AdminByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("lookup admin %q: %w", username, err)
	}
	if existing != nil && bcrypt.CompareHashAndPassword([]byte(existing.PasswordHash), []byte(password)) == nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	acct := Admin{ID: uuid.NewString(), Username: username, PasswordHash: string(hash), CreatedAt: time.Now().UTC()}
	if existing != nil {
		acct.ID = existing.ID
		acct.CreatedAt = existing.CreatedAt
	}
	if err := a.store.UpsertAdmin(ctx, acct); err != nil {
		return fmt.Errorf("save admin %q: %w", username, err)
	}
	a.log.Info("admin account provisioned", zap.String("username", username), zap.Bool("created", existing == nil))
	return nil
}

// Authenticate verifies a login. An empty username means the default account.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = a.defaultUsername
	}
	acct, err := a.store.AdminByUsername(ctx, username)
	if err != nil {
		return Admin{}, fmt.Errorf("lookup admin: %w", err)
	}
	if acct == nil {
		return Admin{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		a.log.Warn("admin login failed", zap.String("username", username))
		return Admin{}, ErrInvalidCredentials
	}
	return *acct, nil
}
