package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kiji/pkg/utils"
)

// snapshotMagic identifies a MemoryIndex snapshot file.
var snapshotMagic = [4]byte{'K', 'V', 'X', '2'}

// ErrVersionMismatch is returned by Load when a snapshot was written for another model version.
var ErrVersionMismatch = errors.New("snapshot model version does not match index")

// Checkpoint identifies the state of the backing store an index was built from.
// Lineage names the store and Revision counts its writes.
type Checkpoint struct {
	Lineage  string
	Revision int64
}

// MemoryIndex is an in-memory vector index using brute-force cosine search.
// Vectors are normalized on insert, so scoring is an inner product.
type MemoryIndex struct {
	version    string
	dimensions int
	checkpoint Checkpoint
	pos        map[string]int
	entries    []Entry
	mu         sync.RWMutex
}

// NewMemoryIndex creates an index for vectors of one model version and dimension.
func NewMemoryIndex(version string, dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		version:    version,
		dimensions: dimensions,
		pos:        make(map[string]int),
	}, nil
}

// Version returns the model version whose vectors the index holds.
func (m *MemoryIndex) Version() string {
	return m.version
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Checkpoint returns the store state the index was last synced to.
func (m *MemoryIndex) Checkpoint() Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoint
}

// SetCheckpoint records the store state the index now reflects. It is saved with the snapshot.
func (m *MemoryIndex) SetCheckpoint(c Checkpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoint = c
}

// Replace swaps the whole contents of the index for entries.
func (m *MemoryIndex) Replace(ctx context.Context, entries []Entry) error {
	pos := make(map[string]int, len(entries))
	fresh := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", e.ID, len(e.Vector), m.dimensions)
		}
		e.Vector = utils.NormalizedCopy(e.Vector)
		if i, ok := pos[e.ID]; ok {
			fresh[i] = e
			continue
		}
		pos[e.ID] = len(fresh)
		fresh = append(fresh, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = fresh
	m.pos = pos
	return nil
}

// IDs returns the IDs held by the index.
func (m *MemoryIndex) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.ID)
	}
	return out
}

// Upsert inserts entries or replaces the existing entries with the same IDs.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if len(e.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", e.ID, len(e.Vector), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.Vector = utils.NormalizedCopy(e.Vector)
		if i, ok := m.pos[e.ID]; ok {
			m.entries[i] = e
			continue
		}
		m.pos[e.ID] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return nil
}

// Search returns the top-k entries admitted by filter, highest similarity first.
// Ties are broken by ID so results are stable.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	q := utils.NormalizedCopy(query)

	m.mu.RLock()
	defer m.mu.RUnlock()
	scores := make([]Result, 0, len(m.entries))
	for i := range m.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		e := &m.entries[i]
		if filter != nil && !filter(e.Attrs) {
			continue
		}
		scores = append(scores, Result{ID: e.ID, Score: InnerProduct(q, e.Vector)})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ID < scores[j].ID
	})
	if k < len(scores) {
		scores = scores[:k]
	}
	return scores, nil
}

// Vectors returns copies of the entries admitted by filter.
func (m *MemoryIndex) Vectors(filter Filter) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if filter != nil && !filter(e.Attrs) {
			continue
		}
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		out = append(out, Entry{ID: e.ID, Vector: vec, Attrs: e.Attrs})
	}
	return out
}

// Remove deletes entries by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := false
	for _, id := range ids {
		if _, ok := m.pos[id]; ok {
			delete(m.pos, id)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	kept := m.entries[:0]
	for _, e := range m.entries {
		if _, ok := m.pos[e.ID]; ok {
			m.pos[e.ID] = len(kept)
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(m.entries); i++ {
		m.entries[i] = Entry{}
	}
	m.entries = kept
	return nil
}

// Save persists the index to path. Directory is created if needed. Format: magic, version
// (len-prefixed), dimension (4), checkpoint lineage (len-prefixed) and revision (8), n (4),
// then per entry: id, category (len-prefixed), published_at unix nanos (8), vector
// (dimension*4 bytes).
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryIndex) writeTo(w io.Writer) error {
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := writeString(w, m.version); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := writeString(w, m.checkpoint.Lineage); err != nil {
		return fmt.Errorf("write lineage: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.checkpoint.Revision); err != nil {
		return fmt.Errorf("write revision: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.entries))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, e := range m.entries {
		if err := writeString(w, e.ID); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := writeString(w, e.Attrs.Category); err != nil {
			return fmt.Errorf("write category: %w", err)
		}
		var published int64
		if !e.Attrs.PublishedAt.IsZero() {
			published = e.Attrs.PublishedAt.UnixNano()
		}
		if err := binary.Write(w, binary.LittleEndian, published); err != nil {
			return fmt.Errorf("write published_at: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(e.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents and checkpoint.
// Version and dimensions must match. A missing file is not an error and leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != snapshotMagic {
		return fmt.Errorf("not an index snapshot: %s", path)
	}
	version, err := readString(r)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version != m.version {
		return fmt.Errorf("%w: file has %q, index expects %q", ErrVersionMismatch, version, m.version)
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	var checkpoint Checkpoint
	if checkpoint.Lineage, err = readString(r); err != nil {
		return fmt.Errorf("read lineage: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &checkpoint.Revision); err != nil {
		return fmt.Errorf("read revision: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}

	entries := make([]Entry, 0, n)
	pos := make(map[string]int, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		id, err := readString(r)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		category, err := readString(r)
		if err != nil {
			return fmt.Errorf("read category: %w", err)
		}
		var published int64
		if err := binary.Read(r, binary.LittleEndian, &published); err != nil {
			return fmt.Errorf("read published_at: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		attrs := Attributes{Category: category}
		if published != 0 {
			attrs.PublishedAt = time.Unix(0, published).UTC()
		}
		pos[id] = len(entries)
		entries = append(entries, Entry{ID: id, Vector: bytesToFloat32Slice(buf), Attrs: attrs})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	m.pos = pos
	m.checkpoint = checkpoint
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > 1<<20 {
		return "", fmt.Errorf("string length %d too large", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
