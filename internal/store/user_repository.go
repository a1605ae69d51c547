package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
)

const userColumns = `id, tenant_id, email, name, role, password_hash, is_active, created_at`

// UserRepository persists cockpit users.
type UserRepository struct {
	c conn
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{c: newConn(db)}
}

// CreateUser inserts u. Emails are stored lower-cased.
func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	_, err := r.c.exec(ctx, "create user",
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.TenantID, u.Email, u.Name, string(u.Role), u.PasswordHash, u.IsActive, u.CreatedAt,
	)
	return err
}

// GetUserByEmail returns the user with the given email or ErrNotFound.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := r.c.opContext(ctx)
	defer cancel()

	row := r.c.q.QueryRowContext(ctx, r.c.rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`),
		strings.ToLower(strings.TrimSpace(email)))

	var (
		u    model.User
		name sql.NullString
		hash sql.NullString
		role string
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &name, &role, &hash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, mapError(ctx, "get user by email", err)
	}
	u.Name = name.String
	u.PasswordHash = hash.String
	u.Role = model.Role(role)
	return &u, nil
}

// UpdatePassword replaces the stored password hash of a user.
func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := r.c.exec(ctx, "update user password",
		`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}
