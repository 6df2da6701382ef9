package datasource

import (
	"context"
	"time"
)

// CacheAdapter is the key-value contract the data source stores serialized
// records behind. Only bytes produced by the configured Codec are ever
// written through it.
//
// A ttl of zero or below leaves expiry to the adapter: redis keeps the key
// forever, the bundled LRU applies its default TTL. The core does not
// depend on which.
type CacheAdapter interface {
	// Get returns the value for key, with found=false on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value under key, expiring after ttl when ttl > 0.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// InitializeConfig carries the collaborators supplied during the second
// phase of the data source lifecycle.
type InitializeConfig struct {
	// Cache receives serialized records. When nil, an in-process LRU
	// adapter with default sizing is used.
	Cache CacheAdapter
}

type callOptions struct {
	ttl time.Duration
}

// CallOption adjusts a single read or create call.
type CallOption func(*callOptions)

// WithTTL asks the call to persist fetched or created records into the
// external cache for the given duration. Without it, reads never write to
// the cache and primes only refresh keys that are already present.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) {
		o.ttl = ttl
	}
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type deleteOptions struct {
	hard bool
}

// DeleteOption adjusts a DeleteOne call.
type DeleteOption func(*deleteOptions)

// WithHardDelete removes the row physically instead of marking its soft
// delete field.
func WithHardDelete() DeleteOption {
	return func(o *deleteOptions) {
		o.hard = true
	}
}

func applyDeleteOptions(opts []DeleteOption) deleteOptions {
	var o deleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
