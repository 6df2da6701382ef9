package datasource

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// schemaCache memoizes parsed entity schemas across data source instances.
var schemaCache = &sync.Map{}

var deletedAtType = reflect.TypeOf(gorm.DeletedAt{})

// repository wraps a *gorm.DB for one entity type together with the
// metadata the rest of the package needs: the single primary key field and
// the optional soft delete field, both resolved once at construction.
type repository[T any, ID comparable] struct {
	db        *gorm.DB
	schema    *schema.Schema
	pk        *schema.Field
	deletedAt *schema.Field
}

func newRepository[T any, ID comparable](db *gorm.DB) (*repository[T, ID], error) {
	if db == nil {
		return nil, errors.New("datasource: nil *gorm.DB handle")
	}

	s, err := schema.Parse(new(T), schemaCache, db.NamingStrategy)
	if err != nil {
		return nil, errors.Wrapf(err, "datasource: parse schema for %T", *new(T))
	}

	if len(s.PrimaryFields) != 1 {
		return nil, errors.Errorf(
			"datasource: entity %s declares %d primary key fields, want exactly one",
			s.Name, len(s.PrimaryFields))
	}

	pk := s.PrimaryFields[0]
	idType := reflect.TypeOf((*ID)(nil)).Elem()
	if pk.FieldType != idType && !pk.FieldType.ConvertibleTo(idType) {
		return nil, errors.Errorf(
			"datasource: entity %s primary key %s has type %s, not usable as %s",
			s.Name, pk.Name, pk.FieldType, idType)
	}

	var deletedAt *schema.Field
	for _, f := range s.Fields {
		if f.FieldType == deletedAtType {
			deletedAt = f
			break
		}
	}

	return &repository[T, ID]{db: db, schema: s, pk: pk, deletedAt: deletedAt}, nil
}

// primaryKey reads the record's key field. ok is false when the field
// holds its zero value.
func (r *repository[T, ID]) primaryKey(rec *T) (ID, bool) {
	var id ID

	v, zero := r.pk.ValueOf(context.Background(), reflect.ValueOf(rec))
	if zero || v == nil {
		return id, false
	}

	if typed, ok := v.(ID); ok {
		return typed, true
	}

	rv := reflect.ValueOf(v)
	idType := reflect.TypeOf(id)
	if rv.CanConvert(idType) {
		return rv.Convert(idType).Interface().(ID), true
	}

	return id, false
}

// recordKey is the default loader key function.
func (r *repository[T, ID]) recordKey(rec *T) (ID, error) {
	id, ok := r.primaryKey(rec)
	if !ok {
		return id, errors.Errorf("entity %s has an empty %s field", r.schema.Name, r.pk.Name)
	}
	return id, nil
}

func (r *repository[T, ID]) softDeleted(rec *T) bool {
	if r.deletedAt == nil {
		return false
	}
	_, zero := r.deletedAt.ValueOf(context.Background(), reflect.ValueOf(rec))
	return !zero
}

func (r *repository[T, ID]) findOne(ctx context.Context, id ID) (*T, error) {
	rec := new(T)

	err := r.db.WithContext(ctx).
		Where(fmt.Sprintf("%s = ?", r.pk.DBName), id).
		First(rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Key: formatKey(id)}
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return rec, nil
}

// findByIDs is the loader's batch fetch: one IN query for the whole key
// set. gorm's default scoping keeps soft-deleted rows out of the result.
func (r *repository[T, ID]) findByIDs(ctx context.Context, ids []ID) ([]*T, error) {
	var recs []*T

	err := r.db.WithContext(ctx).
		Where(fmt.Sprintf("%s IN ?", r.pk.DBName), ids).
		Find(&recs).Error
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return recs, nil
}

func (r *repository[T, ID]) create(ctx context.Context, rec *T) error {
	return errors.WithStack(r.db.WithContext(ctx).Create(rec).Error)
}

func (r *repository[T, ID]) createAll(ctx context.Context, recs []*T) error {
	return errors.WithStack(r.db.WithContext(ctx).Create(&recs).Error)
}

func (r *repository[T, ID]) save(ctx context.Context, rec *T) error {
	return errors.WithStack(r.db.WithContext(ctx).Save(rec).Error)
}

// updateFields applies a column-keyed partial update to the row behind id.
func (r *repository[T, ID]) updateFields(ctx context.Context, id ID, fields map[string]any) error {
	return errors.WithStack(r.db.WithContext(ctx).
		Model(new(T)).
		Where(fmt.Sprintf("%s = ?", r.pk.DBName), id).
		Updates(fields).Error)
}

func (r *repository[T, ID]) remove(ctx context.Context, rec *T) error {
	return errors.WithStack(r.db.WithContext(ctx).Unscoped().Delete(rec).Error)
}

func (r *repository[T, ID]) softRemove(ctx context.Context, rec *T) error {
	if r.deletedAt == nil {
		return errors.Errorf("entity %s has no soft delete field", r.schema.Name)
	}
	return errors.WithStack(r.db.WithContext(ctx).Delete(rec).Error)
}

// query runs a caller-supplied gorm scope and returns the matching rows.
func (r *repository[T, ID]) query(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]*T, error) {
	var recs []*T

	err := r.db.WithContext(ctx).Scopes(scope).Find(&recs).Error
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return recs, nil
}

func (r *repository[T, ID]) where(ctx context.Context, cond any, args ...any) ([]*T, error) {
	var recs []*T

	err := r.db.WithContext(ctx).Where(cond, args...).Find(&recs).Error
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return recs, nil
}

func (r *repository[T, ID]) count(ctx context.Context, cond any, args ...any) (int64, error) {
	var n int64

	q := r.db.WithContext(ctx).Model(new(T))
	if cond != nil {
		q = q.Where(cond, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, errors.WithStack(err)
	}

	return n, nil
}
