package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/pinspire/platform/internal/model"
)

// UserRepo persists identities for the authservice.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts an identity and returns it with the assigned id. Username
// and email are checked before the insert to report the precise conflict;
// the unique keys remain the backstop when two registrations race, in which
// case the duplicate-key error is mapped back to the same sentinels.
func (r *UserRepo) Create(ctx context.Context, username, email, passwordHash string) (model.User, error) {
	var taken model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, username, email FROM users WHERE username=? OR email=? LIMIT 1",
		username, email).Scan(&taken.ID, &taken.Username, &taken.Email)
	switch {
	case err == nil:
		if taken.Username == username {
			return model.User{}, ErrUsernameTaken
		}
		return model.User{}, ErrEmailTaken
	case errors.Is(err, sql.ErrNoRows):
		// free to insert
	default:
		return model.User{}, err
	}

	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role, refresh_token_version) VALUES (?,?,?, 'user', 0)",
		username, email, passwordHash)
	if err != nil {
		if isDuplicateKey(err) {
			if strings.Contains(err.Error(), "username") {
				return model.User{}, ErrUsernameTaken
			}
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	return model.User{ID: id, Username: username, Email: email, PasswordHash: passwordHash, Role: "user"}, nil
}

// GetByUsername fetches an identity by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return r.get(ctx, "SELECT id, username, email, password_hash, role, refresh_token_version FROM users WHERE username=? LIMIT 1", username)
}

// GetByID fetches an identity by id.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (model.User, error) {
	return r.get(ctx, "SELECT id, username, email, password_hash, role, refresh_token_version FROM users WHERE id=? LIMIT 1", id)
}

// TokenVersion returns the identity's current refresh token version.
func (r *UserRepo) TokenVersion(ctx context.Context, id int64) (int64, error) {
	var v int64
	err := r.DB.QueryRowContext(ctx,
		"SELECT refresh_token_version FROM users WHERE id=? LIMIT 1", id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return v, err
}

// BumpTokenVersion increments the identity's refresh token version and
// returns the new value. The increment is a single UPDATE, so the database
// serializes concurrent bumps on the row and none are lost; the read-back
// happens in the same transaction to return the value this bump produced.
func (r *UserRepo) BumpTokenVersion(ctx context.Context, id int64) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE users SET refresh_token_version = refresh_token_version + 1 WHERE id=?", id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	var v int64
	if err := tx.QueryRowContext(ctx,
		"SELECT refresh_token_version FROM users WHERE id=?", id).Scan(&v); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *UserRepo) get(ctx context.Context, query string, arg any) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.RefreshTokenVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// isDuplicateKey spots MySQL error 1062 (duplicate entry for a unique key).
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
