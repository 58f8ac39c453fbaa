package model

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/Brownie44l1/imgclass/internal/dataset"
	"golang.org/x/sync/errgroup"
)

// Featurize returns one bottleneck vector per row, in row order. Rows already
// present in cache are not decoded again, and new vectors are added to it.
// progress, when set, is called after each computed row with the running
// count. It may be called from several goroutines.
func Featurize(ctx context.Context, ex Extractor, rows []dataset.ModelInput, cache *BottleneckCache, progress func(done int)) ([][]float32, error) {
	if cache != nil && cache.Dim() != ex.Dim() {
		return nil, fmt.Errorf("%w: cache dim %d, backbone dim %d", ErrShapeMismatch, cache.Dim(), ex.Dim())
	}
	out := make([][]float32, len(rows))
	var done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, row := range rows {
		i, row := i, row
		if cache != nil {
			if v, ok := cache.Get(row.Path); ok {
				out[i] = v
				continue
			}
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, _, err := DecodeImage(row.Image)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(row.Path), err)
			}
			v, err := ex.Extract(img)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(row.Path), err)
			}
			if len(v) != ex.Dim() {
				return fmt.Errorf("%w: backbone returned %d features, want %d", ErrShapeMismatch, len(v), ex.Dim())
			}
			out[i] = v
			if cache != nil {
				if err := cache.Put(row.Path, v); err != nil {
					return err
				}
			}
			if progress != nil {
				progress(int(done.Add(1)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
