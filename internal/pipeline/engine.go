package pipeline

import (
	"fmt"
	"image"

	"github.com/Brownie44l1/imgclass/internal/dataset"
	"github.com/Brownie44l1/imgclass/internal/model"
	"github.com/Brownie44l1/imgclass/internal/train"
)

// Prediction is the head's answer for one image.
type Prediction struct {
	Key    uint32
	Label  string
	Scores []float32
}

// PredictionEngine chains a backbone and a trained head to classify single
// images.
type PredictionEngine struct {
	ex  model.Extractor
	clf *train.Classifier
}

func NewPredictionEngine(ex model.Extractor, clf *train.Classifier) (*PredictionEngine, error) {
	if ex.Dim() != clf.Dim {
		return nil, fmt.Errorf("%w: backbone gives %d features, head expects %d", model.ErrShapeMismatch, ex.Dim(), clf.Dim)
	}
	return &PredictionEngine{ex: ex, clf: clf}, nil
}

func (e *PredictionEngine) Labels() []string {
	return append([]string(nil), e.clf.Labels...)
}

func (e *PredictionEngine) Dim() int { return e.clf.Dim }

// PredictFeatures classifies a precomputed bottleneck vector.
func (e *PredictionEngine) PredictFeatures(features []float32) (Prediction, error) {
	key, scores, err := e.clf.Predict(features)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Key: key, Label: e.clf.Label(key), Scores: scores}, nil
}

func (e *PredictionEngine) PredictImage(img image.Image) (Prediction, error) {
	features, err := e.ex.Extract(img)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to extract features: %w", err)
	}
	return e.PredictFeatures(features)
}

// Predict decodes the raw bytes of a row and classifies them.
func (e *PredictionEngine) Predict(in dataset.ModelInput) (dataset.ModelOutput, error) {
	img, _, err := model.DecodeImage(in.Image)
	if err != nil {
		return dataset.ModelOutput{}, err
	}
	p, err := e.PredictImage(img)
	if err != nil {
		return dataset.ModelOutput{}, err
	}
	return dataset.ModelOutput{Path: in.Path, Label: in.Label, PredictedLabel: p.Label}, nil
}
