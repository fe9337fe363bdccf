package model

import "time"

// User mirrors the authservice 'users' table. RefreshTokenVersion is the
// per-identity session epoch: every issued refresh token embeds the version
// current at issuance, and bumping the column invalidates them all at once.
type User struct {
	ID                  int64  // users.id
	Username            string // users.username (unique)
	Email               string // users.email (unique)
	PasswordHash        string // users.password_hash, argon2id encoded; never serialized
	Role                string // users.role, defaults to "user"
	RefreshTokenVersion int64  // users.refresh_token_version
}

// DirectoryUser mirrors the userservice 'directory_users' table: the profile
// projection materialized from provisioning facts. Its primary key is the
// authservice identity id, assigned upstream, never auto-incremented here.
type DirectoryUser struct {
	ID          int64     // directory_users.id (same value as users.id upstream)
	Username    string    // directory_users.username (unique)
	Name        string    // directory_users.name
	Posts       int64     // directory_users.posts
	Followers   int64     // directory_users.followers
	Followed    int64     // directory_users.followed
	Verified    bool      // directory_users.verified
	Description string    // directory_users.description
	CreatedAt   time.Time // directory_users.created_at
}
