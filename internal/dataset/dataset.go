// Package dataset scans a labeled image tree and prepares the rows fed to
// the classifier: label extraction, label keys, shuffling and splitting.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand"
	"path/filepath"
	"unicode"
)

var (
	ErrNoImages    = errors.New("dataset: no images found")
	ErrBadFraction = errors.New("dataset: fraction must be in [0,1)")
)

// ImageData is one image on disk and its class label.
type ImageData struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

// ModelInput is a row handed to the model.
type ModelInput struct {
	Image    []byte `json:"-"`
	LabelKey uint32 `json:"labelKey"`
	Path     string `json:"path"`
	Label    string `json:"label"`
}

// ModelOutput is a single prediction.
type ModelOutput struct {
	Path           string `json:"path"`
	Label          string `json:"label"`
	PredictedLabel string `json:"predictedLabel"`
}

// IsImage reports whether a file name has one of the accepted extensions.
// The match is case sensitive: "a.JPG" is skipped.
func IsImage(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".jpg" || ext == ".png"
}

// LoadImagesFromDirectory walks folder recursively and returns every .jpg and
// .png file with its label. When useFolderNameAsLabel is set the label is the
// name of the immediate parent directory, otherwise it is the leading
// alphabetic run of the file name.
func LoadImagesFromDirectory(folder string, useFolderNameAsLabel bool) ([]ImageData, error) {
	var images []ImageData
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImage(d.Name()) {
			return nil
		}
		label := LabelFromFileName(d.Name())
		if useFolderNameAsLabel {
			label = filepath.Base(filepath.Dir(path))
		}
		images = append(images, ImageData{Path: path, Label: label})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", folder, err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoImages, folder)
	}
	return images, nil
}

// LabelFromFileName returns the maximal leading run of letters in name.
// "cat12.jpg" gives "cat", "7up.png" gives "". A name with no non-letter at
// all is returned unchanged.
func LabelFromFileName(name string) string {
	for i, r := range name {
		if !unicode.IsLetter(r) {
			return name[:i]
		}
	}
	return name
}

// Shuffle permutes rows in place.
func Shuffle[T any](rows []T, rng *rand.Rand) {
	rng.Shuffle(len(rows), func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
	})
}

// TrainTestSplit splits already shuffled rows. The test part holds
// round(len(rows)*testFraction) rows taken from the tail.
func TrainTestSplit[T any](rows []T, testFraction float64) (train, test []T, err error) {
	if testFraction < 0 || testFraction >= 1 || math.IsNaN(testFraction) {
		return nil, nil, fmt.Errorf("%w: got %v", ErrBadFraction, testFraction)
	}
	nTest := int(math.Round(float64(len(rows)) * testFraction))
	cut := len(rows) - nTest
	return rows[:cut:cut], rows[cut:], nil
}
