// Package pipeline runs the transfer learning script end to end: scan the
// asset tree, split it, compute bottlenecks, fit the head and classify the
// test images.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/Brownie44l1/imgclass/internal/config"
	"github.com/Brownie44l1/imgclass/internal/curves"
	"github.com/Brownie44l1/imgclass/internal/dataset"
	"github.com/Brownie44l1/imgclass/internal/evaluate"
	"github.com/Brownie44l1/imgclass/internal/model"
	"github.com/Brownie44l1/imgclass/internal/train"
	"go.uber.org/zap"
)

// Report collects everything a run printed or measured.
type Report struct {
	Log        []string
	MetricsLog []string
	Metrics    []train.Metrics

	TrainCount, ValidationCount, TestCount int

	Single *dataset.ModelOutput
	Batch  []dataset.ModelOutput
	Test   evaluate.MulticlassMetrics

	HeadPath   string
	CurvesPath string
}

type runner struct {
	cfg *config.Config
	ex  model.Extractor
	log *zap.Logger

	mu     sync.Mutex
	report *Report
}

// Run executes the whole pipeline with cfg and backbone ex.
func Run(ctx context.Context, cfg *config.Config, ex model.Extractor, log *zap.Logger) (*Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &runner{cfg: cfg, ex: ex, log: log, report: &Report{}}
	if err := r.run(ctx); err != nil {
		return r.report, err
	}
	return r.report, nil
}

func (r *runner) run(ctx context.Context) error {
	cfg := r.cfg

	images, err := dataset.LoadImagesFromDirectory(cfg.Assets, cfg.UseFolderNameAsLabel)
	if err != nil {
		return err
	}
	dataset.Shuffle(images, rand.New(rand.NewSource(cfg.Seed)))

	keys := dataset.NewKeyMap(images)
	r.log.Info("loaded images",
		zap.String("assets", cfg.Assets),
		zap.Int("images", len(images)),
		zap.Strings("labels", keys.Labels()))

	rows, err := dataset.LoadRawImageBytes(ctx, images, keys)
	if err != nil {
		return err
	}

	trainRows, rest, err := dataset.TrainTestSplit(rows, cfg.Split.TestFraction)
	if err != nil {
		return err
	}
	validRows, testRows, err := dataset.TrainTestSplit(rest, cfg.Split.ValidationTestFraction)
	if err != nil {
		return err
	}
	r.report.TrainCount, r.report.ValidationCount, r.report.TestCount = len(trainRows), len(validRows), len(testRows)
	r.log.Info("split data",
		zap.Int("train", len(trainRows)),
		zap.Int("validation", len(validRows)),
		zap.Int("test", len(testRows)))

	opts := TrainOptions(cfg)
	opts.Logger = r.log
	opts.MetricsCallback = r.record

	trainSet, err := r.bottleneck(ctx, "train", trainRows, train.DatasetTrain, opts.ReuseTrainSetBottleneckCachedValues)
	if err != nil {
		return err
	}
	validSet, err := r.bottleneck(ctx, "validation", validRows, train.DatasetValidation, opts.ReuseValidationSetBottleneckCachedValues)
	if err != nil {
		return err
	}

	clf, err := train.Fit(ctx, trainSet, validSet, keys.Labels(), opts)
	if err != nil {
		return fmt.Errorf("failed to train classifier: %w", err)
	}

	engine, err := NewPredictionEngine(r.ex, clf)
	if err != nil {
		return err
	}

	if len(testRows) == 0 {
		r.log.Warn("test split is empty, skipping classification")
	} else {
		single, err := ClassifySingleImage(engine, testRows)
		if err != nil {
			return err
		}
		r.report.Single = &single
		r.print("Classifying single image")
		r.print(OutputPrediction(single))

		testFeatures, err := model.Featurize(ctx, r.ex, testRows, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to featurize test set: %w", err)
		}
		batch, err := ClassifyImages(engine, testRows, testFeatures, cfg.Output.Take)
		if err != nil {
			return err
		}
		r.report.Batch = batch
		r.print("Classifying multiple images")
		for _, p := range batch {
			r.print(OutputPrediction(p))
		}

		r.report.Test, err = Evaluate(engine, testRows, testFeatures)
		if err != nil {
			return err
		}
		r.log.Info("test metrics",
			zap.Float64("microAccuracy", r.report.Test.MicroAccuracy),
			zap.Float64("macroAccuracy", r.report.Test.MacroAccuracy),
			zap.Float64("logLoss", r.report.Test.LogLoss))
	}

	r.report.HeadPath = cfg.HeadPath()
	if err := clf.Save(r.report.HeadPath); err != nil {
		return err
	}
	r.log.Info("saved classifier", zap.String("path", r.report.HeadPath))

	if cfg.Output.Curves != "" {
		path := cfg.Output.Curves
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Workspace, path)
		}
		if err := curves.WriteTrainingCurves(path, r.report.Metrics); err != nil {
			return err
		}
		r.report.CurvesPath = path
	}
	return nil
}

// bottleneck featurizes rows, reading and writing the workspace cache file
// for this data set.
func (r *runner) bottleneck(ctx context.Context, set string, rows []dataset.ModelInput, ds train.Dataset, reuse bool) (train.Split, error) {
	split := train.Split{Keys: make([]uint32, len(rows))}
	for i, row := range rows {
		split.Keys[i] = row.LabelKey
	}
	if len(rows) == 0 {
		return split, nil
	}

	path := model.BottleneckPath(r.cfg.Workspace, r.cfg.Backbone.Arch, set)
	cache := model.NewBottleneckCache(r.ex.Dim())
	if reuse {
		loaded, err := model.LoadBottleneckCache(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			r.log.Warn("ignoring bottleneck cache", zap.String("path", path), zap.Error(err))
		case loaded.Dim() != r.ex.Dim():
			r.log.Warn("bottleneck cache has wrong dimension", zap.String("path", path), zap.Int("dim", loaded.Dim()))
		default:
			cache = loaded
			r.log.Debug("loaded bottleneck cache", zap.String("path", path), zap.Int("rows", loaded.Len()))
		}
	}

	features, err := model.Featurize(ctx, r.ex, rows, cache, func(done int) {
		r.record(train.Metrics{Bottleneck: &train.BottleneckMetrics{DatasetUsed: ds, Index: done - 1}})
	})
	if err != nil {
		return split, fmt.Errorf("failed to compute %s bottlenecks: %w", set, err)
	}
	split.Features = features

	if r.cfg.Workspace != "" {
		paths := make([]string, len(rows))
		for i, row := range rows {
			paths[i] = row.Path
		}
		if n := cache.Retain(paths); n > 0 {
			r.log.Debug("dropped stale bottlenecks", zap.String("path", path), zap.Int("rows", n))
		}
		if err := cache.Save(path); err != nil {
			return split, err
		}
	}
	return split, nil
}

// record is the trainer's metrics callback. Bottleneck progress arrives from
// several goroutines.
func (r *runner) record(m train.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Metrics = append(r.report.Metrics, m)
	s := m.String()
	r.report.MetricsLog = append(r.report.MetricsLog, s)
	r.log.Debug(s)
}

func (r *runner) print(line string) {
	r.report.Log = append(r.report.Log, line)
	r.log.Info(line)
}

// ClassifySingleImage runs the prediction engine on the first row.
func ClassifySingleImage(engine *PredictionEngine, rows []dataset.ModelInput) (dataset.ModelOutput, error) {
	if len(rows) == 0 {
		return dataset.ModelOutput{}, errors.New("no rows to classify")
	}
	out, err := engine.Predict(rows[0])
	if err != nil {
		return out, fmt.Errorf("failed to classify %s: %w", filepath.Base(rows[0].Path), err)
	}
	return out, nil
}

// ClassifyImages predicts every row from its precomputed features and returns
// the first take results.
func ClassifyImages(engine *PredictionEngine, rows []dataset.ModelInput, features [][]float32, take int) ([]dataset.ModelOutput, error) {
	n := min(take, len(rows))
	out := make([]dataset.ModelOutput, 0, n)
	for i := 0; i < n; i++ {
		p, err := engine.PredictFeatures(features[i])
		if err != nil {
			return nil, fmt.Errorf("failed to classify %s: %w", filepath.Base(rows[i].Path), err)
		}
		out = append(out, dataset.ModelOutput{Path: rows[i].Path, Label: rows[i].Label, PredictedLabel: p.Label})
	}
	return out, nil
}

// Evaluate scores the engine on featurized rows.
func Evaluate(engine *PredictionEngine, rows []dataset.ModelInput, features [][]float32) (evaluate.MulticlassMetrics, error) {
	truth := make([]uint32, len(rows))
	pred := make([]uint32, len(rows))
	scores := make([][]float32, len(rows))
	for i, row := range rows {
		p, err := engine.PredictFeatures(features[i])
		if err != nil {
			return evaluate.MulticlassMetrics{}, err
		}
		truth[i], pred[i], scores[i] = row.LabelKey, p.Key, p.Scores
	}
	return evaluate.Evaluate(truth, pred, scores, engine.Labels())
}

// OutputPrediction formats one prediction line.
func OutputPrediction(p dataset.ModelOutput) string {
	return fmt.Sprintf("Image: %s | Actual Value: %s | Predicted Value: %s", filepath.Base(p.Path), p.Label, p.PredictedLabel)
}
