package datasource

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Builder assembles a DataSource for one entity type. Configuration errors
// (bad db handle, composite primary key, key type mismatch) surface from
// Build; the result still needs Initialize before it serves data.
type Builder[T any, ID comparable] struct {
	db       *gorm.DB
	prefix   string
	wait     time.Duration
	maxBatch int
	codec    Codec[T]
	keyFn    KeyFn[T, ID]
	logger   zerolog.Logger
}

func NewBuilder[T any, ID comparable](db *gorm.DB) *Builder[T, ID] {
	return &Builder[T, ID]{
		db:     db,
		logger: zerolog.Nop(),
	}
}

// WithCachePrefix overrides the per-entity cache key prefix. Prefixes must
// stay disjoint across entity types sharing one adapter.
func (b *Builder[T, ID]) WithCachePrefix(prefix string) *Builder[T, ID] {
	b.prefix = prefix
	return b
}

// WithBatchWait sets the loader's batching window.
func (b *Builder[T, ID]) WithBatchWait(wait time.Duration) *Builder[T, ID] {
	b.wait = wait
	return b
}

// WithMaxBatch caps the number of distinct keys per store fetch.
func (b *Builder[T, ID]) WithMaxBatch(n int) *Builder[T, ID] {
	b.maxBatch = n
	return b
}

// WithCodec replaces the default msgpack codec.
func (b *Builder[T, ID]) WithCodec(codec Codec[T]) *Builder[T, ID] {
	b.codec = codec
	return b
}

// WithKeyFunc replaces the default key extraction, which reads the
// entity's primary key field and errors when it is empty.
func (b *Builder[T, ID]) WithKeyFunc(fn KeyFn[T, ID]) *Builder[T, ID] {
	b.keyFn = fn
	return b
}

// WithLogger sets the fallback logger used when the call context carries
// none.
func (b *Builder[T, ID]) WithLogger(logger zerolog.Logger) *Builder[T, ID] {
	b.logger = logger
	return b
}

func (b *Builder[T, ID]) Build() (*DataSource[T, ID], error) {
	repo, err := newRepository[T, ID](b.db)
	if err != nil {
		return nil, err
	}

	d := &DataSource[T, ID]{
		repo:   repo,
		codec:  b.codec,
		prefix: b.prefix,
		keyFn:  b.keyFn,
		log:    b.logger,
	}

	if d.codec == nil {
		d.codec = MsgpackCodec[T]{}
	}
	if d.prefix == "" {
		d.prefix = fmt.Sprintf("datasource:%s:", repo.schema.Table)
	}
	if d.keyFn == nil {
		d.keyFn = repo.recordKey
	}

	d.loader = NewLoader(LoaderConfig[T, ID]{
		Fetch:    repo.findByIDs,
		Key:      d.keyFn,
		Wait:     b.wait,
		MaxBatch: b.maxBatch,
		Logger:   &b.logger,
	})

	return d, nil
}

// New builds a DataSource with default settings. It is shorthand for
// NewBuilder(db).Build().
func New[T any, ID comparable](db *gorm.DB) (*DataSource[T, ID], error) {
	return NewBuilder[T, ID](db).Build()
}
