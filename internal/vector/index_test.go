package vector

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/docintel/internal/fields"
)

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestIndex_AddAssignsSequentialSlots(t *testing.T) {
	ix := NewIndex(4)
	for i := 0; i < 3; i++ {
		slot, err := ix.Add(unit(4, i), "doc", fields.Fields{})
		require.NoError(t, err)
		assert.Equal(t, i, slot)
	}
	assert.Equal(t, 3, ix.Len())
	assert.Equal(t, 3, ix.MetadataCount())

	e, ok := ix.Entry(2)
	require.True(t, ok)
	assert.Equal(t, 2, e.EmbeddingID)
	assert.False(t, e.AddedAt.IsZero())
}

func TestIndex_AddWrongDimension(t *testing.T) {
	ix := NewIndex(4)
	_, err := ix.Add([]float32{1, 0}, "doc", fields.Fields{})
	assert.ErrorIs(t, err, ErrDimension)
	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, 0, ix.MetadataCount())
}

func TestIndex_SearchOrdering(t *testing.T) {
	ix := NewIndex(2)
	ix.Add([]float32{0.6, 0.8}, "a", fields.Fields{})
	ix.Add([]float32{1, 0}, "b", fields.Fields{})
	ix.Add([]float32{0.6, 0.8}, "c", fields.Fields{})
	ix.Add([]float32{0, 1}, "d", fields.Fields{})

	hits, err := ix.Search([]float32{0.6, 0.8}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 4, "k is clamped to the index size")

	assert.Equal(t, 0, hits[0].Slot, "ties break by lower slot")
	assert.Equal(t, 2, hits[1].Slot)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, 3, hits[2].Slot)
	assert.Equal(t, 1, hits[3].Slot)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestIndex_SearchEdgeCases(t *testing.T) {
	ix := NewIndex(2)
	hits, err := ix.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	ix.Add([]float32{1, 0}, "a", fields.Fields{})
	hits, err = ix.Search([]float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = ix.Search([]float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestIndex_SelfSimilarity(t *testing.T) {
	ix := NewIndex(3)
	v := []float32{0.48, 0.6, 0.64}
	slot, err := ix.Add(v, "tesis-7", fields.Fields{Title: "Sistema"})
	require.NoError(t, err)
	ix.Add([]float32{1, 0, 0}, "otro", fields.Fields{})

	hits, err := ix.Search(v, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, slot, hits[0].Slot)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestIndex_VectorAndLatestSlot(t *testing.T) {
	ix := NewIndex(2)
	ix.Add([]float32{1, 0}, "a", fields.Fields{})
	ix.Add([]float32{0, 1}, "b", fields.Fields{})
	ix.Add([]float32{0.6, 0.8}, "a", fields.Fields{})

	slot, ok := ix.LatestSlot("a")
	require.True(t, ok)
	assert.Equal(t, 2, slot)

	_, ok = ix.LatestSlot("missing")
	assert.False(t, ok)

	v, ok := ix.Vector(2)
	require.True(t, ok)
	assert.Equal(t, []float32{0.6, 0.8}, v)
	v[0] = 9
	again, _ := ix.Vector(2)
	assert.Equal(t, float32(0.6), again[0], "Vector must return a copy")

	_, ok = ix.Vector(3)
	assert.False(t, ok)
}

func TestIndex_ConcurrentAddAndSearch(t *testing.T) {
	ix := NewIndex(2)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := ix.Add([]float32{1, 0}, "d", fields.Fields{})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			hits, err := ix.Search([]float32{1, 0}, 100)
			assert.NoError(t, err)
			for _, h := range hits {
				_, ok := ix.Entry(h.Slot)
				assert.True(t, ok, "search must never see a slot without metadata")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, ix.Len())
	assert.Equal(t, 50, ix.MetadataCount())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ix := NewIndex(3)
	meta := fields.Fields{Title: "Diseño naval", Year: "2019", Career: fields.CareerNaval}
	ix.Add([]float32{0.6, 0.8, 0}, "1", meta)
	ix.Add([]float32{0, 0, 1}, "2", fields.Fields{})
	require.NoError(t, ix.Save(dir))

	loaded, err := Load(dir, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, 2, loaded.MetadataCount())
	assert.Equal(t, 3, loaded.Dim())

	e, ok := loaded.Entry(0)
	require.True(t, ok)
	assert.Equal(t, "1", e.DocumentID)
	assert.Equal(t, meta, e.Metadata)

	want, _ := ix.Search([]float32{0.6, 0.8, 0}, 2)
	got, _ := loaded.Search([]float32{0.6, 0.8, 0}, 2)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestLoad_MissingArtifactsGiveEmptyIndex(t *testing.T) {
	ix, err := Load(filepath.Join(t.TempDir(), "nope"), 384)
	require.NoError(t, err)
	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, 384, ix.Dim())

	dir := t.TempDir()
	full := NewIndex(2)
	full.Add([]float32{1, 0}, "a", fields.Fields{})
	require.NoError(t, full.Save(dir))
	require.NoError(t, os.Remove(filepath.Join(dir, MetadataFile)))

	ix, err = Load(dir, 384)
	require.NoError(t, err)
	assert.Equal(t, 0, ix.Len())
}

func TestLoad_Corrupt(t *testing.T) {
	save := func(t *testing.T) string {
		dir := t.TempDir()
		ix := NewIndex(2)
		ix.Add([]float32{1, 0}, "a", fields.Fields{})
		ix.Add([]float32{0, 1}, "b", fields.Fields{})
		require.NoError(t, ix.Save(dir))
		return dir
	}

	t.Run("bad magic", func(t *testing.T) {
		dir := save(t)
		path := filepath.Join(dir, IndexFile)
		data, _ := os.ReadFile(path)
		copy(data, "FAIS")
		require.NoError(t, os.WriteFile(path, data, 0o644))
		_, err := Load(dir, 2)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("truncated vectors", func(t *testing.T) {
		dir := save(t)
		path := filepath.Join(dir, IndexFile)
		data, _ := os.ReadFile(path)
		require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o644))
		_, err := Load(dir, 2)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("metadata gap", func(t *testing.T) {
		dir := save(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`{"1":{"document_id":"b"}}`), 0o644))
		_, err := Load(dir, 2)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("key out of range", func(t *testing.T) {
		dir := save(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`{"0":{},"5":{}}`), 0o644))
		_, err := Load(dir, 2)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestSave_HeaderLayout(t *testing.T) {
	dir := t.TempDir()
	ix := NewIndex(2)
	ix.Add([]float32{0.5, -1}, "a", fields.Fields{})
	require.NoError(t, ix.Save(dir))

	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	require.NoError(t, err)
	require.Len(t, data, 20+2*4)
	assert.Equal(t, "DIVX", string(data[:4]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[8:12]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(data[12:20]))
}

func TestLoad_InterruptedSaveDropsTrailingVectors(t *testing.T) {
	dir := t.TempDir()
	ix := NewIndex(2)
	ix.Add([]float32{1, 0}, "a", fields.Fields{})
	ix.Add([]float32{0, 1}, "b", fields.Fields{})
	ix.Add([]float32{0.6, 0.8}, "c", fields.Fields{})
	require.NoError(t, ix.Save(dir))
	oldMeta, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	require.NoError(t, err)

	// index.bin with the fourth vector landed, metadata.json did not.
	ix.Add([]float32{0.8, 0.6}, "d", fields.Fields{})
	require.NoError(t, ix.Save(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), oldMeta, 0o644))

	loaded, err := Load(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, 3, loaded.MetadataCount())
	_, ok := loaded.LatestSlot("d")
	assert.False(t, ok)

	slot, err := loaded.Add([]float32{0.8, 0.6}, "d", fields.Fields{})
	require.NoError(t, err)
	assert.Equal(t, 3, slot)
	require.NoError(t, loaded.Save(dir))

	reloaded, err := Load(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, reloaded.Len())
	e, ok := reloaded.Entry(3)
	require.True(t, ok)
	assert.Equal(t, "d", e.DocumentID)
}

func TestIndex_Dirty(t *testing.T) {
	dir := t.TempDir()
	ix := NewIndex(2)
	assert.False(t, ix.Dirty())

	ix.Add([]float32{1, 0}, "a", fields.Fields{})
	assert.True(t, ix.Dirty())
	require.NoError(t, ix.Save(dir))
	assert.False(t, ix.Dirty())

	loaded, err := Load(dir, 2)
	require.NoError(t, err)
	assert.False(t, loaded.Dirty(), "a freshly loaded index matches disk")
	loaded.Add([]float32{0, 1}, "b", fields.Fields{})
	assert.True(t, loaded.Dirty())
}
