package cache

import (
	"context"

	"iss-tracker-gateway/internal/fetch"
)

// Store is one named cache: a persistent key -> response mapping.
// Keys are absolute URLs (for the precache, cache-busted URLs).
//
// Implementations must be safe for concurrent use and must hand out
// copies: callers are free to mutate what Match returns.
type Store interface {
	Name() string

	// Match returns the stored response or (nil, nil) on a miss.
	Match(ctx context.Context, key string) (*fetch.Response, error)

	// Put stores resp under key, replacing any previous entry.
	Put(ctx context.Context, key string, resp *fetch.Response) error

	// Delete removes key and reports whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)
}

// Storage is the origin-wide set of named stores.
// Open creates a store on demand; Delete drops it with all its entries.
type Storage interface {
	Open(ctx context.Context, name string) (Store, error)
	Has(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Names(ctx context.Context) ([]string, error)
}
