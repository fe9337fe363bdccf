// Package repository implements the persistence layer over database/sql.
// Sentinel errors let handlers pick the right HTTP status without string
// matching; conflict errors stay precise (username vs email) because
// uniqueness carries no security sensitivity, unlike credential failures.
package repository

import "errors"

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrUsernameTaken is returned when a registration collides on username.
var ErrUsernameTaken = errors.New("username already taken")

// ErrEmailTaken is returned when a registration collides on email.
var ErrEmailTaken = errors.New("email already taken")
