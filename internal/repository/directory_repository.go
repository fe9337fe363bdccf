package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pinspire/platform/internal/model"
)

// DirectoryRepo persists directory profiles for the userservice. Rows are
// created only by the provisioning consumer.
type DirectoryRepo struct{ DB *sql.DB }

func NewDirectoryRepo(db *sql.DB) *DirectoryRepo { return &DirectoryRepo{DB: db} }

// Upsert materializes a provisioning fact keyed by the upstream identity id.
// The insert-or-update is a single atomic statement, so concurrent duplicate
// deliveries of the same fact converge on one row without racing.
func (r *DirectoryRepo) Upsert(ctx context.Context, id int64, username, name string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO directory_users (id, username, name)
		 VALUES (?,?,?)
		 ON DUPLICATE KEY UPDATE username=VALUES(username), name=VALUES(name)`,
		id, username, name)
	return err
}

// GetByUsername fetches a directory profile by username.
func (r *DirectoryRepo) GetByUsername(ctx context.Context, username string) (model.DirectoryUser, error) {
	var u model.DirectoryUser
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, username, name, posts, followers, followed, verified, description, created_at
		 FROM directory_users WHERE username=? LIMIT 1`, username).
		Scan(&u.ID, &u.Username, &u.Name, &u.Posts, &u.Followers, &u.Followed, &u.Verified, &desc, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DirectoryUser{}, ErrNotFound
	}
	if err != nil {
		return model.DirectoryUser{}, err
	}
	u.Description = desc.String
	return u, nil
}
