package datasource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loaderRec struct {
	ID   int
	Name string
}

// recordingFetcher is the loader's store stand-in. It records every batch
// it receives and returns matching rows in reverse order, to prove the
// loader re-aligns rows to the requested key order itself.
type recordingFetcher struct {
	mu       sync.Mutex
	batches  [][]int
	rows     map[int]*loaderRec
	extra    []*loaderRec
	failNext error
}

func (f *recordingFetcher) fetch(_ context.Context, ids []int) ([]*loaderRec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, append([]int(nil), ids...))

	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}

	var out []*loaderRec
	for _, id := range ids {
		if rec, ok := f.rows[id]; ok {
			out = append(out, rec)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return append(out, f.extra...), nil
}

func (f *recordingFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *recordingFetcher) batch(i int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func loaderRecKey(rec *loaderRec) (int, error) {
	if rec.ID == 0 {
		return 0, errors.New("record has an empty ID field")
	}
	return rec.ID, nil
}

func newRecordingFetcher() *recordingFetcher {
	return &recordingFetcher{
		rows: map[int]*loaderRec{
			1: {ID: 1, Name: "one"},
			2: {ID: 2, Name: "two"},
			3: {ID: 3, Name: "three"},
		},
	}
}

func newTestLoader(f *recordingFetcher, wait time.Duration, maxBatch int) *Loader[loaderRec, int] {
	return NewLoader(LoaderConfig[loaderRec, int]{
		Fetch:    f.fetch,
		Key:      loaderRecKey,
		Wait:     wait,
		MaxBatch: maxBatch,
	})
}

func TestLoaderOrdering(t *testing.T) {
	f := newRecordingFetcher()
	l := newTestLoader(f, 2*time.Millisecond, 0)

	ids := []int{3, 1, 42, 2}
	recs, errs := l.LoadMany(context.Background(), ids)

	require.Len(t, recs, len(ids))
	require.Len(t, errs, len(ids))

	assert.Equal(t, "three", recs[0].Name)
	assert.Equal(t, "one", recs[1].Name)
	assert.Equal(t, "two", recs[3].Name)

	assert.Nil(t, recs[2])
	assert.True(t, errors.Is(errs[2], ErrNotFound))
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.NoError(t, errs[3])

	assert.Equal(t, 1, f.calls())
}

func TestLoaderCollapsesConcurrentLoads(t *testing.T) {
	f := newRecordingFetcher()
	l := newTestLoader(f, 50*time.Millisecond, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rec, err := l.Load(context.Background(), id)
			assert.NoError(t, err)
			assert.Equal(t, id, rec.ID)
		}(i%3 + 1)
	}
	wg.Wait()

	require.Equal(t, 1, f.calls())
	assert.Len(t, f.batch(0), 3)
}

func TestLoaderDeduplicatesKeys(t *testing.T) {
	f := newRecordingFetcher()
	l := newTestLoader(f, 2*time.Millisecond, 0)

	recs, errs := l.LoadMany(context.Background(), []int{2, 2, 1, 2})

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, []int{2, 1}, f.batch(0))

	// every occurrence of a duplicated key resolves to the same record
	assert.Same(t, recs[0], recs[1])
	assert.Same(t, recs[0], recs[3])
	assert.Equal(t, 1, recs[2].ID)
}

func TestLoaderMemoizesAcrossCalls(t *testing.T) {
	f := newRecordingFetcher()
	l := newTestLoader(f, 2*time.Millisecond, 0)

	first, err := l.Load(context.Background(), 1)
	require.NoError(t, err)

	second, err := l.Load(context.Background(), 1)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.calls())
}

func TestLoaderMemoizesNotFound(t *testing.T) {
	f := newRecordingFetcher()
	l := newTestLoader(f, 2*time.Millisecond, 0)

	_, err := l.Load(context.Background(), 42)
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = l.Load(context.Background(), 42)
	require.True(t, errors.Is(err, ErrNotFound))

	assert.Equal(t, 1, f.calls())
}

func TestLoaderPrimeAndClear(t *testing.T) {
	f := newRecordingFetcher()
	l := newTestLoader(f, 2*time.Millisecond, 0)

	primed := &loaderRec{ID: 7, Name: "primed"}
	l.Prime(7, primed)

	rec, err := l.Load(context.Background(), 7)
	require.NoError(t, err)
	assert.Same(t, primed, rec)
	assert.Equal(t, 0, f.calls())

	// Prime overwrites an existing entry.
	replacement := &loaderRec{ID: 7, Name: "replacement"}
	l.Prime(7, replacement)
	rec, err = l.Load(context.Background(), 7)
	require.NoError(t, err)
	assert.Same(t, replacement, rec)

	l.Clear(7)
	_, err = l.Load(context.Background(), 7)
	require.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, f.calls())
}

func TestLoaderBatchErrorIsNotMemoized(t *testing.T) {
	f := newRecordingFetcher()
	f.failNext = errors.New("connection refused")
	l := newTestLoader(f, 2*time.Millisecond, 0)

	_, err := l.Load(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	rec, err := l.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "one", rec.Name)
	assert.Equal(t, 2, f.calls())
}

func TestLoaderMaxBatchSplitsFetches(t *testing.T) {
	f := newRecordingFetcher()
	l := newTestLoader(f, 20*time.Millisecond, 2)

	recs, errs := l.LoadMany(context.Background(), []int{1, 2, 3})

	for _, err := range errs {
		require.NoError(t, err)
	}
	for i, rec := range recs {
		assert.Equal(t, i+1, rec.ID)
	}

	require.Equal(t, 2, f.calls())
	assert.Equal(t, []int{1, 2}, f.batch(0))
	assert.Equal(t, []int{3}, f.batch(1))
}

func TestLoaderDropsRowsWithUnusableKey(t *testing.T) {
	f := newRecordingFetcher()
	f.extra = []*loaderRec{{ID: 0, Name: "keyless"}}
	l := newTestLoader(f, 2*time.Millisecond, 0)

	rec, err := l.Load(context.Background(), 5)
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, f.calls())
}
