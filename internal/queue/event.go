// Package queue carries identity facts from the authservice to the user
// directory over a durable RabbitMQ queue. Delivery is at-least-once; the
// consumer side absorbs duplicates with an idempotent upsert.
package queue

// UserCreated is the identity fact published once a registration has been
// committed. It is the minimal projection the directory needs; credentials
// never travel on the queue.
type UserCreated struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}
