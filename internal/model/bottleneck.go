package model

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
)

var bottleneckMagic = [4]byte{'B', 'N', 'C', 'K'}

// BottleneckCache holds backbone outputs keyed by image path.
//
// File layout, little endian:
//
//	magic "BNCK" | uint32 count | uint32 dim | count * (uint32 pathLen | path | dim * float32)
type BottleneckCache struct {
	mu   sync.RWMutex
	dim  int
	rows map[string][]float32
}

func NewBottleneckCache(dim int) *BottleneckCache {
	return &BottleneckCache{dim: dim, rows: make(map[string][]float32)}
}

// BottleneckPath is the cache file used for one arch and one data set.
func BottleneckPath(workspace, arch, set string) string {
	return filepath.Join(workspace, fmt.Sprintf("%s_%s.bottleneck", arch, set))
}

func (c *BottleneckCache) Dim() int { return c.dim }

func (c *BottleneckCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

func (c *BottleneckCache) Get(path string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.rows[path]
	return v, ok
}

func (c *BottleneckCache) Put(path string, features []float32) error {
	if len(features) != c.dim {
		return fmt.Errorf("%w: %d features, cache holds %d", ErrShapeMismatch, len(features), c.dim)
	}
	c.mu.Lock()
	c.rows[path] = features
	c.mu.Unlock()
	return nil
}

// Covers reports whether every path has a cached vector.
func (c *BottleneckCache) Covers(paths []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range paths {
		if _, ok := c.rows[p]; !ok {
			return false
		}
	}
	return true
}

// Retain drops every vector whose path is not listed and returns how many
// were dropped.
func (c *BottleneckCache) Retain(paths []string) int {
	keep := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		keep[p] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var dropped int
	for p := range c.rows {
		if _, ok := keep[p]; !ok {
			delete(c.rows, p)
			dropped++
		}
	}
	return dropped
}

// Save writes the cache to path, creating parent directories.
func (c *BottleneckCache) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create bottleneck file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := c.write(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write bottleneck file: %w", err)
	}
	return f.Close()
}

func (c *BottleneckCache) write(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	le := binary.LittleEndian
	hdr := make([]byte, 12)
	copy(hdr, bottleneckMagic[:])
	le.PutUint32(hdr[4:], uint32(len(c.rows)))
	le.PutUint32(hdr[8:], uint32(c.dim))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("failed to write bottleneck header: %w", err)
	}
	buf := make([]byte, 4*c.dim)
	for path, v := range c.rows {
		var n [4]byte
		le.PutUint32(n[:], uint32(len(path)))
		if _, err := w.Write(n[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, path); err != nil {
			return err
		}
		for i, f := range v {
			le.PutUint32(buf[4*i:], math.Float32bits(f))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ErrCorruptBottleneck is returned for cache files whose header or row
// lengths do not fit the file.
var ErrCorruptBottleneck = errors.New("model: corrupt bottleneck file")

// LoadBottleneckCache reads a cache written by Save. A missing file returns
// an error wrapping os.ErrNotExist.
func LoadBottleneckCache(path string) (*BottleneckCache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	c, err := readBottleneck(bufio.NewReader(f), st.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c, nil
}

// readBottleneck decodes size bytes from r. Lengths read from the file are
// checked against the bytes left before anything is allocated.
func readBottleneck(r io.Reader, size int64) (*BottleneckCache, error) {
	le := binary.LittleEndian
	hdr := make([]byte, 12)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	if [4]byte(hdr[:4]) != bottleneckMagic {
		return nil, errors.New("not a bottleneck file")
	}
	left := size - int64(len(hdr))
	count := int64(le.Uint32(hdr[4:]))
	dim := int64(le.Uint32(hdr[8:]))
	row := 4 + 4*dim
	if count > left/row {
		return nil, fmt.Errorf("%w: %d rows of %d bytes in %d bytes", ErrCorruptBottleneck, count, row, left)
	}

	c := NewBottleneckCache(int(dim))
	if count == 0 {
		return c, nil
	}
	buf := make([]byte, 4*dim)
	for i := int64(0); i < count; i++ {
		var n [4]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, err
		}
		// The rows after this one still need their fixed part.
		pathLen := int64(le.Uint32(n[:]))
		left -= row
		if pathLen > left-(count-i-1)*row {
			return nil, fmt.Errorf("%w: path of %d bytes in row %d", ErrCorruptBottleneck, pathLen, i)
		}
		left -= pathLen
		name := make([]byte, pathLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(le.Uint32(buf[4*j:]))
		}
		c.rows[string(name)] = v
	}
	return c, nil
}
