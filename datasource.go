// Package datasource is a cached, batched access layer for gorm entities.
//
// A DataSource collapses concurrent point lookups by primary key into one
// IN query, serves repeated lookups from a pluggable external cache with
// per-entry TTLs, and keeps both layers consistent as records are created,
// updated and deleted. Soft-deleted records are never served from cache.
package datasource

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// DataSource is the per-entity façade. Construct it with New or a Builder,
// then call Initialize; every data method fails with ErrNotInitialized
// before that.
//
// Reads flow cache → loader → store. Writes flow store → loader/cache
// re-prime. Cache adapter failures on the read path degrade to the store.
type DataSource[T any, ID comparable] struct {
	repo   *repository[T, ID]
	loader *Loader[T, ID]
	codec  Codec[T]
	cache  CacheAdapter
	prefix string
	keyFn  KeyFn[T, ID]
	log    zerolog.Logger
	ready  atomic.Bool
}

// Initialize supplies the external cache and makes the data methods live.
// With a nil Cache, a default in-process LRU adapter is used.
func (d *DataSource[T, ID]) Initialize(cfg InitializeConfig) {
	if cfg.Cache == nil {
		cfg.Cache = NewLRUAdapter(DefaultLRUSize)
	}
	d.cache = cfg.Cache
	d.ready.Store(true)
}

func (d *DataSource[T, ID]) guard() error {
	if !d.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

func (d *DataSource[T, ID]) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &d.log
}

// CacheKey returns the external cache key for id.
func (d *DataSource[T, ID]) CacheKey(id ID) string {
	return d.prefix + formatKey(id)
}

// CachePrefix returns the per-entity key prefix, for advanced composition.
func (d *DataSource[T, ID]) CachePrefix() string {
	return d.prefix
}

// Loader exposes the underlying batch loader, for advanced composition.
func (d *DataSource[T, ID]) Loader() *Loader[T, ID] {
	return d.loader
}

// FindOneByID returns the record behind id. A cache hit bypasses the
// loader entirely; on a miss the lookup joins the loader's current batch.
// With WithTTL, a record fetched through the loader is written back to the
// cache.
func (d *DataSource[T, ID]) FindOneByID(ctx context.Context, id ID, opts ...CallOption) (*T, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	o := applyCallOptions(opts)

	key := d.CacheKey(id)
	if rec := d.cached(ctx, key); rec != nil {
		return rec, nil
	}

	rec, err := d.loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if o.ttl > 0 {
		if err := d.setCache(ctx, key, rec, o.ttl); err != nil {
			d.logger(ctx).Err(err).Str("key", key).Msg("cache write-back failed")
		}
	}

	return rec, nil
}

// FindManyByIDs resolves ids positionally: result i corresponds to ids[i]
// and is either a record or a per-key error, so callers must check each
// position. All cache misses are registered with the loader before any is
// resolved, keeping the whole request inside one batch.
func (d *DataSource[T, ID]) FindManyByIDs(ctx context.Context, ids []ID, opts ...CallOption) ([]*T, []error) {
	recs := make([]*T, len(ids))
	errs := make([]error, len(ids))

	if err := d.guard(); err != nil {
		for i := range errs {
			errs[i] = err
		}
		return recs, errs
	}
	o := applyCallOptions(opts)

	thunks := make([]func() (*T, error), len(ids))
	for i, id := range ids {
		if rec := d.cached(ctx, d.CacheKey(id)); rec != nil {
			recs[i] = rec
			continue
		}
		thunks[i] = d.loader.LoadThunk(ctx, id)
	}

	for i, thunk := range thunks {
		if thunk == nil {
			continue
		}

		rec, err := thunk()
		if err != nil {
			errs[i] = err
			continue
		}
		recs[i] = rec

		if o.ttl > 0 {
			key := d.CacheKey(ids[i])
			if err := d.setCache(ctx, key, rec, o.ttl); err != nil {
				d.logger(ctx).Err(err).Str("key", key).Msg("cache write-back failed")
			}
		}
	}

	return recs, errs
}

// FindManyByQuery runs a caller-supplied gorm scope directly against the
// store. The cache is bypassed on the way in, since the query shape is not
// identifier-keyed, but every row is fed through PrimeLoader so subsequent
// id lookups are warm.
func (d *DataSource[T, ID]) FindManyByQuery(ctx context.Context, query func(*gorm.DB) *gorm.DB, opts ...CallOption) ([]*T, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	o := applyCallOptions(opts)

	recs, err := d.repo.query(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := d.PrimeLoader(ctx, o.ttl, recs...); err != nil {
		d.logger(ctx).Err(err).Msg("prime after query failed")
	}

	return recs, nil
}

// FindManyWhere is FindManyByQuery for plain gorm conditions (a map,
// struct or expression understood by gorm's Where).
func (d *DataSource[T, ID]) FindManyWhere(ctx context.Context, cond any, opts ...CallOption) ([]*T, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	o := applyCallOptions(opts)

	recs, err := d.repo.where(ctx, cond)
	if err != nil {
		return nil, err
	}

	if err := d.PrimeLoader(ctx, o.ttl, recs...); err != nil {
		d.logger(ctx).Err(err).Msg("prime after query failed")
	}

	return recs, nil
}

// CountWhere counts live rows matching cond, or all live rows when cond is
// nil. Purely store-direct.
func (d *DataSource[T, ID]) CountWhere(ctx context.Context, cond any) (int64, error) {
	if err := d.guard(); err != nil {
		return 0, err
	}
	return d.repo.count(ctx, cond)
}

// PrimeLoader inserts records into the loader memo and refreshes their
// cache entries. A record is written to the cache when its key is already
// cached (refresh, even without a TTL) or when ttl is positive. Records
// with a populated soft delete field are skipped entirely, so a logically
// removed row can never come back through this layer.
func (d *DataSource[T, ID]) PrimeLoader(ctx context.Context, ttl time.Duration, recs ...*T) error {
	if err := d.guard(); err != nil {
		return err
	}

	var result error
	for _, rec := range recs {
		if rec == nil || d.repo.softDeleted(rec) {
			continue
		}

		id, err := d.keyFn(rec)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		d.loader.Prime(id, rec)

		key := d.CacheKey(id)
		_, cached, err := d.cache.Get(ctx, key)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "cache get %s", key))
			continue
		}
		if !cached && ttl <= 0 {
			continue
		}

		if err := d.setCache(ctx, key, rec, ttl); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result
}

// ClearLoader drops the loader's whole memo. The external cache is not
// touched; use DeleteFromCacheByID for full per-key eviction.
func (d *DataSource[T, ID]) ClearLoader() {
	d.loader.ClearAll()
}

// DeleteFromCacheByID evicts id from both the loader memo and the external
// cache. Callers use it after mutating the store out of band.
func (d *DataSource[T, ID]) DeleteFromCacheByID(ctx context.Context, id ID) error {
	if err := d.guard(); err != nil {
		return err
	}

	d.loader.Clear(id)

	key := d.CacheKey(id)
	if err := d.cache.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "cache delete %s", key)
	}

	return nil
}

// cached returns the live record behind key, or nil on a miss. Adapter and
// codec failures count as misses: reads fail open to the store.
func (d *DataSource[T, ID]) cached(ctx context.Context, key string) *T {
	blob, found, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger(ctx).Err(err).Str("key", key).Msg("cache get failed")
		return nil
	}
	if !found {
		return nil
	}

	rec, err := d.codec.Unmarshal(blob)
	if err != nil {
		d.logger(ctx).Err(err).Str("key", key).Msg("cache entry is not decodable")
		return nil
	}

	return rec
}

func (d *DataSource[T, ID]) setCache(ctx context.Context, key string, rec *T, ttl time.Duration) error {
	blob, err := d.codec.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal record for cache")
	}

	if err := d.cache.Set(ctx, key, blob, ttl); err != nil {
		return errors.Wrapf(err, "cache set %s", key)
	}

	return nil
}
