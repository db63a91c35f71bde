package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("record not found")

// Store is the key-value surface session records are written to. Get returns
// ErrNotFound for a missing or expired key; Delete of a missing key is not an
// error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
