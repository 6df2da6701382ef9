package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBatchWait bounds how long the loader holds the first pending
	// key before dispatching the batch to the store.
	DefaultBatchWait = 1 * time.Millisecond
	// DefaultMaxBatch caps the number of distinct keys in one store fetch.
	DefaultMaxBatch = 100
)

// FetchFn loads records for a de-duplicated key set in one store round
// trip. Result order is irrelevant and missing keys simply produce no row:
// the loader aligns rows back to keys itself.
type FetchFn[T any, ID comparable] func(ctx context.Context, ids []ID) ([]*T, error)

// KeyFn extracts the loader key from a record. It errors when the record
// cannot be indexed, typically because its key field is empty.
type KeyFn[T any, ID comparable] func(rec *T) (ID, error)

// LoaderConfig configures a Loader. Fetch and Key are required; a nil
// Logger disables logging.
type LoaderConfig[T any, ID comparable] struct {
	Fetch    FetchFn[T, ID]
	Key      KeyFn[T, ID]
	Wait     time.Duration
	MaxBatch int
	Logger   *zerolog.Logger
}

// Loader collapses concurrent point lookups into batched store fetches and
// memoizes results per key until Clear or ClearAll. One loader serves one
// entity type; sharing an instance across entity types mixes their keys.
type Loader[T any, ID comparable] struct {
	fetch    FetchFn[T, ID]
	key      KeyFn[T, ID]
	wait     time.Duration
	maxBatch int
	log      zerolog.Logger

	mu    sync.Mutex
	memo  map[ID]func() (*T, error)
	batch *loaderBatch[T, ID]
}

func NewLoader[T any, ID comparable](cfg LoaderConfig[T, ID]) *Loader[T, ID] {
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultBatchWait
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	return &Loader[T, ID]{
		fetch:    cfg.Fetch,
		key:      cfg.Key,
		wait:     cfg.Wait,
		maxBatch: cfg.MaxBatch,
		log:      log,
		memo:     map[ID]func() (*T, error){},
	}
}

// loaderBatch accumulates the keys requested during one batching window.
// done is closed once results and err are populated.
type loaderBatch[T any, ID comparable] struct {
	ctx     context.Context
	keys    []ID
	seen    map[ID]struct{}
	results map[ID]*T
	err     error
	done    chan struct{}
	closing bool
}

// Load fetches the record for id, blocking until the surrounding batch
// window has been dispatched. A missing id yields a *NotFoundError.
func (l *Loader[T, ID]) Load(ctx context.Context, id ID) (*T, error) {
	return l.LoadThunk(ctx, id)()
}

// LoadThunk registers id with the current batch and returns a function
// that blocks for the result. Registering every key of a request before
// resolving any thunk keeps the whole request inside one batch.
func (l *Loader[T, ID]) LoadThunk(ctx context.Context, id ID) func() (*T, error) {
	l.mu.Lock()

	if thunk, ok := l.memo[id]; ok {
		l.mu.Unlock()
		return thunk
	}

	if l.batch == nil {
		l.batch = &loaderBatch[T, ID]{
			ctx:     ctx,
			seen:    map[ID]struct{}{},
			results: map[ID]*T{},
			done:    make(chan struct{}),
		}
		go l.batch.sleep(l)
	}
	b := l.batch

	if _, pending := b.seen[id]; !pending {
		b.seen[id] = struct{}{}
		b.keys = append(b.keys, id)
		if len(b.keys) >= l.maxBatch && !b.closing {
			b.closing = true
			l.batch = nil
			go b.dispatch(l)
		}
	}

	thunk := func() (*T, error) {
		<-b.done

		if b.err != nil {
			return nil, b.err
		}

		rec, ok := b.results[id]
		if !ok {
			return nil, &NotFoundError{Key: formatKey(id)}
		}

		return rec, nil
	}
	l.memo[id] = thunk
	l.mu.Unlock()

	return thunk
}

// LoadMany resolves ids positionally: the returned slices always have
// len(ids) entries and result i corresponds to ids[i]. Errors interleave
// with records, so callers must check each position. Duplicate ids all
// receive the same resolved value.
func (l *Loader[T, ID]) LoadMany(ctx context.Context, ids []ID) ([]*T, []error) {
	thunks := make([]func() (*T, error), len(ids))
	for i, id := range ids {
		thunks[i] = l.LoadThunk(ctx, id)
	}

	recs := make([]*T, len(ids))
	errs := make([]error, len(ids))
	for i, thunk := range thunks {
		recs[i], errs[i] = thunk()
	}

	return recs, errs
}

// Prime inserts or overwrites the memo entry for id, so a future Load is
// satisfied without a store round trip.
func (l *Loader[T, ID]) Prime(id ID, rec *T) {
	l.mu.Lock()
	l.memo[id] = func() (*T, error) { return rec, nil }
	l.mu.Unlock()
}

// Clear evicts the memo entry for id. The next Load hits the store again.
func (l *Loader[T, ID]) Clear(id ID) {
	l.mu.Lock()
	delete(l.memo, id)
	l.mu.Unlock()
}

// ClearAll drops the whole memo.
func (l *Loader[T, ID]) ClearAll() {
	l.mu.Lock()
	l.memo = map[ID]func() (*T, error){}
	l.mu.Unlock()
}

func (b *loaderBatch[T, ID]) sleep(l *Loader[T, ID]) {
	time.Sleep(l.wait)

	l.mu.Lock()
	if b.closing {
		// the batch filled up and dispatched itself already
		l.mu.Unlock()
		return
	}
	l.batch = nil
	l.mu.Unlock()

	b.dispatch(l)
}

func (b *loaderBatch[T, ID]) dispatch(l *Loader[T, ID]) {
	defer close(b.done)

	rows, err := l.fetch(b.ctx, b.keys)
	if err != nil {
		b.err = err

		// A failed fetch poisons every key in the batch, so those memo
		// entries are dropped: the next Load for any of them goes back
		// to the store instead of replaying the stale error.
		l.mu.Lock()
		for _, id := range b.keys {
			delete(l.memo, id)
		}
		l.mu.Unlock()
		return
	}

	for _, rec := range rows {
		if rec == nil {
			continue
		}

		id, err := l.key(rec)
		if err != nil {
			// The requesting keys resolve to not-found instead of
			// failing the batch.
			l.log.Warn().Err(err).Msg("dropping row with unusable key")
			continue
		}

		b.results[id] = rec
	}
}
