package vector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// Artifact names inside the index directory.
const (
	IndexFile    = "index.bin"
	MetadataFile = "metadata.json"
)

const formatVersion = 1

var magic = [4]byte{'D', 'I', 'V', 'X'}

// ErrCorrupt is returned when the persisted index cannot be trusted.
var ErrCorrupt = errors.New("corrupt vector index")

// Load reads the index persisted in dir. When either artifact is missing it
// returns an empty index of dimension dim.
func Load(dir string, dim int) (*Index, error) {
	indexPath := filepath.Join(dir, IndexFile)
	metaPath := filepath.Join(dir, MetadataFile)
	if !exists(indexPath) || !exists(metaPath) {
		return NewIndex(dim), nil
	}

	ix, err := readVectors(indexPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", MetadataFile, err)
	}
	var raw map[string]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, MetadataFile, err)
	}

	count := len(ix.vectors) / ix.dim
	for key, e := range raw {
		slot, err := strconv.Atoi(key)
		if err != nil || slot < 0 || slot >= count {
			return nil, fmt.Errorf("%w: metadata key %q outside 0..%d", ErrCorrupt, key, count-1)
		}
		ix.entries[slot] = e
	}

	// Save renames index.bin before metadata.json, so a crash between the two
	// leaves trailing vectors with no metadata. Drop them when the entries
	// cover exactly 0..m-1.
	if m := len(ix.entries); m < count {
		for slot := range ix.entries {
			if slot >= m {
				return nil, fmt.Errorf("%w: %d vectors but %d metadata entries", ErrCorrupt, count, m)
			}
		}
		slog.Warn("Dropping vectors without metadata from an interrupted save",
			"dir", dir, "vectors", count, "metadata_entries", m)
		ix.vectors = ix.vectors[:m*ix.dim]
		count = m
	}
	ix.saved = count
	return ix, nil
}

// Dirty reports whether slots were added since the index was loaded or last
// saved.
func (ix *Index) Dirty() bool {
	ix.saveMu.Lock()
	defer ix.saveMu.Unlock()
	return ix.Len() != ix.saved
}

// Save writes both artifacts into dir. Each file is written to a temporary
// name and renamed into place.
func (ix *Index) Save(dir string) error {
	ix.saveMu.Lock()
	defer ix.saveMu.Unlock()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}

	err := writeAtomic(filepath.Join(dir, IndexFile), func(w io.Writer) error {
		return ix.writeVectors(w)
	})
	if err != nil {
		return err
	}

	meta := make(map[string]Entry, len(ix.entries))
	for slot, e := range ix.entries {
		meta[strconv.Itoa(slot)] = e
	}
	err = writeAtomic(filepath.Join(dir, MetadataFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	})
	if err != nil {
		return err
	}
	ix.saved = len(ix.vectors) / ix.dim
	return nil
}

func (ix *Index) writeVectors(w io.Writer) error {
	bw := bufio.NewWriter(w)
	header := struct {
		Magic   [4]byte
		Version uint32
		Dim     uint32
		Count   uint64
	}{magic, formatVersion, uint32(ix.dim), uint64(len(ix.vectors) / ix.dim)}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, v := range ix.vectors {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func readVectors(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", IndexFile, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header struct {
		Magic   [4]byte
		Version uint32
		Dim     uint32
		Count   uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrCorrupt, err)
	}
	if header.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, header.Magic[:])
	}
	if header.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header.Version)
	}
	if header.Dim == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrCorrupt)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	const headerSize = 4 + 4 + 4 + 8
	want := uint64(headerSize) + header.Count*uint64(header.Dim)*4
	if uint64(info.Size()) != want {
		return nil, fmt.Errorf("%w: size %d, header implies %d", ErrCorrupt, info.Size(), want)
	}

	ix := NewIndex(int(header.Dim))
	ix.vectors = make([]float32, header.Count*uint64(header.Dim))
	buf := make([]byte, 4)
	for i := range ix.vectors {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: reading vectors: %w", ErrCorrupt, err)
		}
		ix.vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
	}
	return ix, nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
