package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes a pretrained backbone exported to ONNX. It is read from
// a JSON sidecar next to the model file.
type Metadata struct {
	Arch        string    `json:"arch"`
	InputName   string    `json:"input_name"`
	OutputName  string    `json:"output_name"`
	InputShape  []int64   `json:"input_shape"`
	OutputShape []int64   `json:"output_shape"`
	ImageSize   int       `json:"image_size"`
	Mean        []float32 `json:"mean,omitempty"`
	Std         []float32 `json:"std,omitempty"`
}

// LoadMetadata reads and checks a backbone metadata file.
func LoadMetadata(path string) (Metadata, error) {
	var md Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return md, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if md.InputName == "" {
		md.InputName = "input"
	}
	if md.OutputName == "" {
		md.OutputName = "output"
	}
	if len(md.InputShape) != 4 || md.InputShape[1] != 3 {
		return md, fmt.Errorf("%w: input shape %v, want [1 3 H W]", ErrShapeMismatch, md.InputShape)
	}
	if md.ImageSize == 0 {
		md.ImageSize = int(md.InputShape[2])
	}
	if len(md.OutputShape) < 2 {
		return md, fmt.Errorf("%w: output shape %v", ErrShapeMismatch, md.OutputShape)
	}
	return md, nil
}

// FeatureDim is the size of one bottleneck vector: the output shape without
// the batch dimension.
func (m Metadata) FeatureDim() int {
	n := 1
	for _, d := range m.OutputShape[1:] {
		n *= int(d)
	}
	return n
}

// PredictionRequest carries a precomputed bottleneck vector.
type PredictionRequest struct {
	Features []float32 `json:"features"`
}

type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
}
