package datasource

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// CreateOne persists a new record and primes it into loader and cache.
// A record arriving with a populated primary key is treated as
// create-or-update and delegated to UpdateOne.
func (d *DataSource[T, ID]) CreateOne(ctx context.Context, rec *T, opts ...CallOption) (*T, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("datasource: nil record")
	}

	if _, ok := d.repo.primaryKey(rec); ok {
		return d.UpdateOne(ctx, rec)
	}

	o := applyCallOptions(opts)
	if err := d.repo.create(ctx, rec); err != nil {
		return nil, err
	}

	if err := d.PrimeLoader(ctx, o.ttl, rec); err != nil {
		return rec, errors.Wrap(err, "prime after create")
	}

	return rec, nil
}

// CreateMany persists a batch of new records in one insert and primes them
// all.
func (d *DataSource[T, ID]) CreateMany(ctx context.Context, recs []*T, opts ...CallOption) ([]*T, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return recs, nil
	}

	o := applyCallOptions(opts)
	if err := d.repo.createAll(ctx, recs); err != nil {
		return nil, err
	}

	if err := d.PrimeLoader(ctx, o.ttl, recs...); err != nil {
		return recs, errors.Wrap(err, "prime after create")
	}

	return recs, nil
}

// UpdateOne persists the full record, re-reads the canonical stored row
// and primes it. The cache entry is refreshed only if one already exists;
// no new TTL is introduced by an update.
func (d *DataSource[T, ID]) UpdateOne(ctx context.Context, rec *T) (*T, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("datasource: nil record")
	}

	id, err := d.repo.recordKey(rec)
	if err != nil {
		return nil, err
	}

	if err := d.repo.save(ctx, rec); err != nil {
		return nil, err
	}

	stored, err := d.repo.findOne(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := d.PrimeLoader(ctx, 0, stored); err != nil {
		return stored, errors.Wrap(err, "prime after update")
	}

	return stored, nil
}

// UpdateOnePartial merges fields into the stored record behind id and
// returns the result. The primary key is immutable: any key field in the
// payload is stripped before the update is applied. Fails with a not-found
// error when no record exists for id.
func (d *DataSource[T, ID]) UpdateOnePartial(ctx context.Context, id ID, fields map[string]any) (*T, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}

	if _, err := d.repo.findOne(ctx, id); err != nil {
		return nil, err
	}

	patch := make(map[string]any, len(fields))
	for name, value := range fields {
		column := name
		if f, ok := d.repo.schema.FieldsByName[name]; ok {
			column = f.DBName
		}
		if strings.EqualFold(column, d.repo.pk.DBName) || strings.EqualFold(name, d.repo.pk.Name) {
			continue
		}
		patch[column] = value
	}

	if len(patch) > 0 {
		if err := d.repo.updateFields(ctx, id, patch); err != nil {
			return nil, err
		}
	}

	stored, err := d.repo.findOne(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := d.PrimeLoader(ctx, 0, stored); err != nil {
		return stored, errors.Wrap(err, "prime after update")
	}

	return stored, nil
}

// DeleteOne removes the record behind id, logically by default or
// physically with WithHardDelete, then evicts it from loader and cache.
// A soft delete leaves the row in the store but fully evicts it here.
// Fails with a not-found error when no record exists for id.
func (d *DataSource[T, ID]) DeleteOne(ctx context.Context, id ID, opts ...DeleteOption) error {
	if err := d.guard(); err != nil {
		return err
	}
	o := applyDeleteOptions(opts)

	rec, err := d.repo.findOne(ctx, id)
	if err != nil {
		return err
	}

	if o.hard {
		err = d.repo.remove(ctx, rec)
	} else {
		err = d.repo.softRemove(ctx, rec)
	}
	if err != nil {
		return err
	}

	return d.DeleteFromCacheByID(ctx, id)
}
