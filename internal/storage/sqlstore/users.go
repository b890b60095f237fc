package sqlstore

import (
	"context"
	"fmt"
	"iter"

	"github.com/finsentry/finsentry/internal/domain"
)

// CreateUser inserts a new user row. Fails with domain.ErrConflict when the
// identifier or email is already taken.
func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (user_id, name, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role), user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", mapErr(err))
	}
	return nil
}

// GetUser fetches a user by identifier.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	const query = `
		SELECT user_id, name, email, password_hash, role, created_at
		FROM users WHERE user_id = $1
	`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail fetches a user by its unique email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `
		SELECT user_id, name, email, password_hash, role, created_at
		FROM users WHERE email = $1
	`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

// ListUsers streams all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) iter.Seq2[domain.User, error] {
	const query = `
		SELECT user_id, name, email, password_hash, role, created_at
		FROM users ORDER BY created_at
	`
	return func(yield func(domain.User, error) bool) {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			yield(domain.User{}, fmt.Errorf("list users: %w", mapErr(err)))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var user domain.User
			var role string
			if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &role, &user.CreatedAt); err != nil {
				yield(domain.User{}, fmt.Errorf("scan user: %w", err))
				return
			}
			user.Role = domain.Role(role)
			if !yield(user, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.User{}, fmt.Errorf("list users: %w", mapErr(err)))
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var user domain.User
	var role string
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &role, &user.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", mapErr(err))
	}
	user.Role = domain.Role(role)
	return user, nil
}
