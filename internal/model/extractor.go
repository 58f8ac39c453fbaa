// Package model wraps the pretrained backbones that turn an image into a
// bottleneck feature vector, and the cache that keeps those vectors between
// training runs.
package model

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

var ErrShapeMismatch = errors.New("model: shape mismatch")

// PixelsArch selects the PixelExtractor backbone.
const PixelsArch = "pixels"

// Extractor produces a fixed size feature vector for an image.
type Extractor interface {
	Extract(img image.Image) ([]float32, error)
	Dim() int
	Close() error
}

// DecodeImage decodes JPEG or PNG bytes.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// PixelExtractor is a backbone without learned weights: the image is resized
// to Size x Size and the normalized pixels are the features.
type PixelExtractor struct {
	Size int
}

func NewPixelExtractor(size int) *PixelExtractor {
	if size <= 0 {
		size = 32
	}
	return &PixelExtractor{Size: size}
}

func (p *PixelExtractor) Extract(img image.Image) ([]float32, error) {
	return Preprocess(img, p.Size, nil, nil), nil
}

func (p *PixelExtractor) Dim() int { return 3 * p.Size * p.Size }

func (p *PixelExtractor) Close() error { return nil }

// Open returns the backbone named by arch. "pixels" needs no model file, any
// other arch is loaded from ONNX.
func Open(arch, modelPath, metadataPath, libraryPath string, imageSize int) (Extractor, error) {
	if arch == PixelsArch {
		return NewPixelExtractor(imageSize), nil
	}
	e, err := NewONNXExtractor(modelPath, metadataPath, libraryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open backbone %s: %w", arch, err)
	}
	return e, nil
}
