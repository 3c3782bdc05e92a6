package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key has no record.
	ErrNotFound = errors.New("record not found")
	// ErrConcurrentModification is returned by Update when the record changed
	// between the read and the write of the transaction.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// UpdateFunc transforms the current record bytes into the next record bytes.
type UpdateFunc func(current []byte) (next []byte, err error)

// Store is the record store: get/set/delete over opaque string keys, plus
// member-level set primitives so index membership never goes through a
// whole-list rewrite, and an optimistic transactional Update for records that
// take concurrent read-modify-writes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent writes only when the key does not exist and reports whether
	// the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Update applies fn to the current value of key inside an optimistic
	// transaction. Returns ErrNotFound when the key is absent and
	// ErrConcurrentModification when the key changed mid-flight.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	Delete(ctx context.Context, keys ...string) error

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	Close() error
}
