// Package curves renders training curves.
package curves

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/imgclass/internal/train"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

var ErrNoEpochs = errors.New("curves: no training metrics")

type series struct {
	name string
	pts  plotter.XYs
}

// TrainingCurves builds a plot with accuracy and cross-entropy per epoch for
// each data set. Bottleneck metrics are ignored.
func TrainingCurves(metrics []train.Metrics) (*plot.Plot, error) {
	var acc, loss [2]series
	for _, ds := range []train.Dataset{train.DatasetTrain, train.DatasetValidation} {
		acc[ds].name = strings.ToLower(ds.String()) + " accuracy"
		loss[ds].name = strings.ToLower(ds.String()) + " cross-entropy"
	}
	n := 0
	for _, m := range metrics {
		tm := m.Train
		if tm == nil {
			continue
		}
		x := float64(tm.Epoch)
		acc[tm.DatasetUsed].pts = append(acc[tm.DatasetUsed].pts, plotter.XY{X: x, Y: tm.Accuracy})
		loss[tm.DatasetUsed].pts = append(loss[tm.DatasetUsed].pts, plotter.XY{X: x, Y: tm.CrossEntropy})
		n++
	}
	if n == 0 {
		return nil, ErrNoEpochs
	}

	p := plot.New()
	p.Title.Text = "Training"
	p.X.Label.Text = "epoch"
	p.X.Padding, p.Y.Padding = 0, 0
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	ix := 0
	for _, s := range []series{acc[0], loss[0], acc[1], loss[1]} {
		if len(s.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s line: %w", s.name, err)
		}
		line.Width = 2
		line.Color = plotutil.Color(ix)
		line.Dashes = plotutil.Dashes(ix / 2)
		p.Add(line)
		p.Legend.Add(s.name, line)
		ix++
	}
	return p, nil
}

// WriteSVG renders the curves as SVG to w.
func WriteSVG(w io.Writer, metrics []train.Metrics, width, height vg.Length) error {
	p, err := TrainingCurves(metrics)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "svg")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// WriteTrainingCurves writes an SVG of the curves to path.
func WriteTrainingCurves(path string, metrics []train.Metrics) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create plot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot: %w", err)
	}
	if err := WriteSVG(f, metrics, 8*vg.Inch, 4*vg.Inch); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
