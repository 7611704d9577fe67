package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestRecord_Lifecycle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, Job{ID: "j1", DocumentID: "42", State: "received", Slot: -1}))
	require.NoError(t, s.Record(ctx, Job{ID: "j1", DocumentID: "42", State: "text_extracted", ContentHash: "abc", Slot: -1}))
	require.NoError(t, s.Record(ctx, Job{ID: "j1", DocumentID: "42", State: "indexed", Slot: 7}))
	require.NoError(t, s.Record(ctx, Job{ID: "j1", DocumentID: "42", State: "reported", Slot: -1}))

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "reported", job.State)
	assert.Equal(t, "abc", job.ContentHash, "hash is kept once set")
	assert.Equal(t, 7, job.Slot, "slot is kept once set")
	assert.True(t, job.UpdatedAt.After(job.CreatedAt))

	history, err := s.Transitions(ctx, "j1")
	require.NoError(t, err)
	states := make([]string, len(history))
	for i, tr := range history {
		states[i] = tr.State
	}
	assert.Equal(t, []string{"received", "text_extracted", "indexed", "reported"}, states)
}

func TestGet_NotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindIndexedByHash(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, Job{ID: "failed", DocumentID: "1", State: "failed", ContentHash: "h", Slot: -1}))
	_, err := s.FindIndexedByHash(ctx, "h")
	assert.ErrorIs(t, err, ErrNotFound, "only indexed jobs count as duplicates")

	require.NoError(t, s.Record(ctx, Job{ID: "first", DocumentID: "1", State: "indexed", ContentHash: "h", Slot: 0}))
	require.NoError(t, s.Record(ctx, Job{ID: "second", DocumentID: "2", State: "reported", ContentHash: "h", Slot: 1}))

	job, err := s.FindIndexedByHash(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "first", job.ID)

	_, err = s.FindIndexedByHash(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByDocument(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Job{ID: "a", DocumentID: "9", State: "failed", Slot: -1}))
	require.NoError(t, s.Record(ctx, Job{ID: "b", DocumentID: "9", State: "indexed", Slot: 3}))
	require.NoError(t, s.Record(ctx, Job{ID: "c", DocumentID: "10", State: "indexed", Slot: 4}))

	jobs, err := s.ListByDocument(ctx, "9")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[0].ID)
	assert.Equal(t, "a", jobs[1].ID)
	assert.NoError(t, s.Ping(ctx))
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Job{ID: "x", DocumentID: "1", State: "received", Slot: -1}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	job, err := s.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "received", job.State)
}

func TestFindIndexedByHash_SubSecondOrdering(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{base.Add(100 * time.Millisecond), base.Add(120 * time.Millisecond)}
	s.now = func() time.Time {
		ts := stamps[0]
		stamps = stamps[1:]
		return ts
	}

	require.NoError(t, s.Record(ctx, Job{ID: "earlier", DocumentID: "1", State: "indexed", ContentHash: "h", Slot: 0}))
	require.NoError(t, s.Record(ctx, Job{ID: "later", DocumentID: "1", State: "indexed", ContentHash: "h", Slot: 1}))

	job, err := s.FindIndexedByHash(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "earlier", job.ID)
	assert.Equal(t, base.Add(100*time.Millisecond), job.CreatedAt)

	jobs, err := s.ListByDocument(ctx, "1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "later", jobs[0].ID)

	history, err := s.Transitions(ctx, "later")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, base.Add(120*time.Millisecond), history[0].At)
}
