// Package storage defines where encoded story maps are kept between sessions.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Load when no map is stored under a key.
var ErrNotFound = errors.New("storage: map not found")

// Store keeps one encoded map string per key.
type Store interface {
	// Load returns the value stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) (string, error)
	// Save replaces the value stored under key.
	Save(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Prefixed returns a Store that prepends prefix to every key before
// delegating to s. An empty prefix returns s unchanged.
func Prefixed(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{next: s, prefix: prefix}
}

type prefixed struct {
	next   Store
	prefix string
}

func (p *prefixed) Load(ctx context.Context, key string) (string, error) {
	return p.next.Load(ctx, p.prefix+key)
}

func (p *prefixed) Save(ctx context.Context, key, value string) error {
	return p.next.Save(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.next.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Ping(ctx context.Context) error {
	return p.next.Ping(ctx)
}
