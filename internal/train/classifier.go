package train

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Classifier is a linear softmax head. Inputs are standardized with the
// per-feature Shift and Scale learned from the training set.
type Classifier struct {
	Arch   string    `json:"arch"`
	Labels []string  `json:"labels"`
	Dim    int       `json:"dim"`
	Shift  []float64 `json:"shift"`
	Scale  []float64 `json:"scale"`
	// Row-major, one row of Dim weights per class.
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

func newClassifier(arch string, labels []string, dim int) *Classifier {
	c := &Classifier{
		Arch:    arch,
		Labels:  append([]string(nil), labels...),
		Dim:     dim,
		Shift:   make([]float64, dim),
		Scale:   make([]float64, dim),
		Weights: make([]float64, len(labels)*dim),
		Bias:    make([]float64, len(labels)),
	}
	floats.AddConst(1, c.Scale)
	return c
}

func (c *Classifier) NumClasses() int { return len(c.Labels) }

// Label maps a key back to its class name.
func (c *Classifier) Label(key uint32) string {
	if int(key) >= len(c.Labels) {
		return ""
	}
	return c.Labels[key]
}

// weights views Weights as a classes x Dim matrix. Writes through the view
// update the classifier.
func (c *Classifier) weights() *mat.Dense {
	return mat.NewDense(len(c.Labels), c.Dim, c.Weights)
}

// Predict returns the most likely key and the softmax scores for all classes.
func (c *Classifier) Predict(features []float32) (uint32, []float32, error) {
	if len(features) != c.Dim {
		return 0, nil, fmt.Errorf("expected %d features, got %d", c.Dim, len(features))
	}
	z := c.logits(c.standardize(features, nil))
	softmax(z, 0)
	scores := make([]float32, len(z))
	for k, p := range z {
		scores[k] = float32(p)
	}
	return uint32(floats.MaxIdx(z)), scores, nil
}

func (c *Classifier) standardize(features []float32, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(features))
	}
	for i, v := range features {
		dst[i] = float64(v)
	}
	floats.Sub(dst, c.Shift)
	floats.Mul(dst, c.Scale)
	return dst
}

// logits returns W·x + b for one standardized row.
func (c *Classifier) logits(x []float64) []float64 {
	z := mat.NewVecDense(len(c.Labels), nil)
	z.MulVec(c.weights(), mat.NewVecDense(c.Dim, x))
	out := z.RawVector().Data
	floats.Add(out, c.Bias)
	return out
}

// softmax replaces logits z with class probabilities and returns the
// cross-entropy of class y.
func softmax(z []float64, y int) float64 {
	lse := floats.LogSumExp(z)
	loss := lse - z[y]
	floats.AddConst(-lse, z)
	for k, v := range z {
		z[k] = math.Exp(v)
	}
	return loss
}

func (c *Classifier) clone() *Classifier {
	n := *c
	n.Weights = append([]float64(nil), c.Weights...)
	n.Bias = append([]float64(nil), c.Bias...)
	return &n
}

// Save writes the classifier as JSON.
func (c *Classifier) Save(path string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal classifier: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write classifier: %w", err)
	}
	return nil
}

// Load reads a classifier written by Save.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier: %w", err)
	}
	var c Classifier
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse classifier: %w", err)
	}
	k := len(c.Labels)
	if k == 0 || c.Dim <= 0 || len(c.Weights) != k*c.Dim || len(c.Bias) != k || len(c.Shift) != c.Dim || len(c.Scale) != c.Dim {
		return nil, fmt.Errorf("classifier %s is inconsistent", path)
	}
	return &c, nil
}
