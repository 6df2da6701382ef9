package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testUser struct {
	ID        uint `gorm:"primaryKey"`
	Email     string
	Name      string
	Age       int
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// permanentNote has no soft delete field.
type permanentNote struct {
	ID   uint `gorm:"primaryKey"`
	Body string
}

type membership struct {
	OrgID  uint `gorm:"primaryKey"`
	UserID uint `gorm:"primaryKey"`
}

func openTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))

	return db
}

func TestNewRepositoryMetadata(t *testing.T) {
	db := openTestDB(t, &testUser{})

	repo, err := newRepository[testUser, uint](db)
	require.NoError(t, err)

	assert.Equal(t, "ID", repo.pk.Name)
	assert.Equal(t, "id", repo.pk.DBName)
	require.NotNil(t, repo.deletedAt)
	assert.Equal(t, "DeletedAt", repo.deletedAt.Name)
}

func TestNewRepositoryNilDB(t *testing.T) {
	_, err := newRepository[testUser, uint](nil)
	assert.Error(t, err)
}

func TestNewRepositoryRejectsCompositeKey(t *testing.T) {
	db := openTestDB(t, &membership{})

	_, err := newRepository[membership, uint](db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary key fields")
}

func TestNewRepositoryRejectsKeyTypeMismatch(t *testing.T) {
	db := openTestDB(t, &testUser{})

	type opaque struct{ a, b string }
	_, err := newRepository[testUser, opaque](db)
	assert.Error(t, err)
}

func TestRepositoryWithoutSoftDeleteField(t *testing.T) {
	db := openTestDB(t, &permanentNote{})

	repo, err := newRepository[permanentNote, uint](db)
	require.NoError(t, err)
	assert.Nil(t, repo.deletedAt)

	note := &permanentNote{Body: "pinned"}
	require.NoError(t, repo.create(context.Background(), note))

	err = repo.softRemove(context.Background(), note)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no soft delete field")
	assert.False(t, repo.softDeleted(note))
}

func TestRepositoryPrimaryKeyAccessors(t *testing.T) {
	db := openTestDB(t, &testUser{})

	repo, err := newRepository[testUser, uint](db)
	require.NoError(t, err)

	_, ok := repo.primaryKey(&testUser{})
	assert.False(t, ok)

	id, ok := repo.primaryKey(&testUser{ID: 12})
	assert.True(t, ok)
	assert.Equal(t, uint(12), id)

	_, err = repo.recordKey(&testUser{})
	assert.Error(t, err)
}

func TestRepositoryFindByIDsExcludesSoftDeleted(t *testing.T) {
	db := openTestDB(t, &testUser{})
	ctx := context.Background()

	repo, err := newRepository[testUser, uint](db)
	require.NoError(t, err)

	live := &testUser{Email: "live@x.com"}
	gone := &testUser{Email: "gone@x.com"}
	require.NoError(t, repo.create(ctx, live))
	require.NoError(t, repo.create(ctx, gone))
	require.NoError(t, repo.softRemove(ctx, gone))

	recs, err := repo.findByIDs(ctx, []uint{live.ID, gone.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, live.ID, recs[0].ID)
}

func TestRepositoryFindOneNotFound(t *testing.T) {
	db := openTestDB(t, &testUser{})

	repo, err := newRepository[testUser, uint](db)
	require.NoError(t, err)

	_, err = repo.findOne(context.Background(), 9999)
	assert.True(t, IsNotFound(err))
}
