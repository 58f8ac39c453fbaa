// Package evaluate computes multiclass classification metrics.
package evaluate

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrLengthMismatch = errors.New("evaluate: truth and predictions differ in length")

// MulticlassMetrics summarizes predictions on a labeled set.
type MulticlassMetrics struct {
	Count           int             `json:"count"`
	MicroAccuracy   float64         `json:"microAccuracy"`
	MacroAccuracy   float64         `json:"macroAccuracy"`
	LogLoss         float64         `json:"logLoss"`
	PerClassLogLoss []float64       `json:"perClassLogLoss"`
	ConfusionMatrix ConfusionMatrix `json:"confusionMatrix"`
}

// ConfusionMatrix counts rows by true class (first index) and predicted class.
type ConfusionMatrix struct {
	Labels []string `json:"labels"`
	Counts [][]int  `json:"counts"`
}

// Evaluate compares predicted keys with the truth. scores may be nil, in which
// case log loss is left at zero; otherwise scores[i][truth[i]] is the
// probability given to the right class.
func Evaluate(truth, predicted []uint32, scores [][]float32, labels []string) (MulticlassMetrics, error) {
	m := MulticlassMetrics{Count: len(truth)}
	if len(truth) != len(predicted) || (scores != nil && len(scores) != len(truth)) {
		return m, ErrLengthMismatch
	}
	k := len(labels)
	m.ConfusionMatrix = ConfusionMatrix{Labels: append([]string(nil), labels...), Counts: make([][]int, k)}
	for i := range m.ConfusionMatrix.Counts {
		m.ConfusionMatrix.Counts[i] = make([]int, k)
	}
	m.PerClassLogLoss = make([]float64, k)
	if len(truth) == 0 {
		return m, nil
	}

	// Per-row indicators and losses, averaged with class-membership weights
	// for the per-class figures.
	n := len(truth)
	hit := make([]float64, n)
	loss := make([]float64, n)
	for i, y := range truth {
		p := predicted[i]
		if int(y) >= k || int(p) >= k {
			return m, fmt.Errorf("evaluate: key out of range at row %d", i)
		}
		m.ConfusionMatrix.Counts[y][p]++
		if y == p {
			hit[i] = 1
		}
		if scores != nil {
			loss[i] = logLoss(scores[i], y)
		}
	}
	m.MicroAccuracy = stat.Mean(hit, nil)
	m.LogLoss = stat.Mean(loss, nil)

	var recalls []float64
	member := make([]float64, n)
	for c := 0; c < k; c++ {
		for i, y := range truth {
			member[i] = 0
			if int(y) == c {
				member[i] = 1
			}
		}
		if floats.Sum(member) == 0 {
			continue
		}
		recalls = append(recalls, stat.Mean(hit, member))
		m.PerClassLogLoss[c] = stat.Mean(loss, member)
	}
	m.MacroAccuracy = stat.Mean(recalls, nil)
	return m, nil
}

func logLoss(scores []float32, y uint32) float64 {
	if int(y) >= len(scores) {
		return -math.Log(1e-15)
	}
	return -math.Log(math.Max(float64(scores[y]), 1e-15))
}

// String renders the matrix as a table, one row per true class.
func (c ConfusionMatrix) String() string {
	width := 5
	for _, l := range c.Labels {
		width = max(width, len(l))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-*s", width, "")
	for _, l := range c.Labels {
		fmt.Fprintf(&b, " %*s", width, l)
	}
	b.WriteString(" | Recall\n")
	for i, row := range c.Counts {
		fmt.Fprintf(&b, "%-*s", width, c.Labels[i])
		total := 0
		for _, n := range row {
			fmt.Fprintf(&b, " %*d", width, n)
			total += n
		}
		recall := 0.0
		if total > 0 {
			recall = float64(row[i]) / float64(total)
		}
		fmt.Fprintf(&b, " | %.4f\n", recall)
	}
	return b.String()
}
