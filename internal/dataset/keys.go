package dataset

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// KeyMap converts string labels to dense integer keys and back. Keys are
// assigned in order of first appearance starting at 0.
type KeyMap struct {
	labels []string
	keys   map[string]uint32
}

// NewKeyMap builds a key map over the labels of images.
func NewKeyMap(images []ImageData) *KeyMap {
	m := &KeyMap{keys: make(map[string]uint32)}
	for _, img := range images {
		m.Add(img.Label)
	}
	return m
}

// KeyMapFromLabels rebuilds a key map from a saved label list.
func KeyMapFromLabels(labels []string) *KeyMap {
	m := &KeyMap{keys: make(map[string]uint32, len(labels))}
	for _, l := range labels {
		m.Add(l)
	}
	return m
}

// Add registers label if it is new and returns its key.
func (m *KeyMap) Add(label string) uint32 {
	if k, ok := m.keys[label]; ok {
		return k
	}
	k := uint32(len(m.labels))
	m.keys[label] = k
	m.labels = append(m.labels, label)
	return k
}

func (m *KeyMap) Key(label string) (uint32, bool) {
	k, ok := m.keys[label]
	return k, ok
}

// Value returns the label for key, or "" when the key is out of range.
func (m *KeyMap) Value(key uint32) string {
	if int(key) >= len(m.labels) {
		return ""
	}
	return m.labels[key]
}

func (m *KeyMap) Len() int { return len(m.labels) }

// Labels returns a copy of the labels indexed by key.
func (m *KeyMap) Labels() []string {
	return append([]string(nil), m.labels...)
}

// LoadRawImageBytes reads the file behind every row and attaches its label
// key. Output order matches images.
func LoadRawImageBytes(ctx context.Context, images []ImageData, keys *KeyMap) ([]ModelInput, error) {
	rows := make([]ModelInput, len(images))
	for i, img := range images {
		key, ok := keys.Key(img.Label)
		if !ok {
			return nil, fmt.Errorf("label %q has no key", img.Label)
		}
		rows[i].LabelKey = key
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(img.Path)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			rows[i] = ModelInput{Image: data, LabelKey: rows[i].LabelKey, Path: img.Path, Label: img.Label}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}
