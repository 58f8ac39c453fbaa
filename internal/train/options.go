// Package train fits a softmax classification head on bottleneck features
// produced by a pretrained backbone.
package train

import (
	"errors"
	"math"

	"go.uber.org/zap"
)

var (
	ErrEmptyTrainSet = errors.New("train: empty training set")
	ErrBadOptions    = errors.New("train: invalid options")
)

// EarlyStopMetric selects what early stopping watches.
type EarlyStopMetric int

const (
	EarlyStopAccuracy EarlyStopMetric = iota
	EarlyStopLoss
)

// EarlyStopping stops training once the monitored metric has not improved by
// more than MinDelta for Patience epochs. The best weights are kept.
type EarlyStopping struct {
	Patience int
	MinDelta float64
	Metric   EarlyStopMetric
}

// LearningRateDecay scales the learning rate by Rate every EpochsPerDecay
// epochs (continuously, not in steps).
type LearningRateDecay struct {
	Rate           float64
	EpochsPerDecay float64
}

// at returns the learning rate for a zero-based epoch.
func (d *LearningRateDecay) at(base float64, epoch int) float64 {
	return base * math.Pow(d.Rate, float64(epoch)/d.EpochsPerDecay)
}

type Options struct {
	Arch         string
	Epochs       int
	BatchSize    int
	LearningRate float64
	L2           float64
	Seed         int64

	// Nil disables decay / early stopping.
	LearningRateDecay *LearningRateDecay
	EarlyStopping     *EarlyStopping

	// Recompute train accuracy over the whole set after every epoch instead of
	// reporting the running average over the epoch's batches.
	TestOnTrainSet bool

	ReuseTrainSetBottleneckCachedValues      bool
	ReuseValidationSetBottleneckCachedValues bool

	MetricsCallback func(Metrics)
	Logger          *zap.Logger
}

// DefaultOptions mirrors the image classification trainer defaults.
func DefaultOptions() Options {
	return Options{
		Epochs:            200,
		BatchSize:         10,
		LearningRate:      0.01,
		Seed:              1,
		LearningRateDecay: &LearningRateDecay{Rate: 0.94, EpochsPerDecay: 2.5},
		EarlyStopping:     &EarlyStopping{Patience: 20, MinDelta: 0.01},
	}
}

func (o *Options) validate() error {
	switch {
	case o.Epochs <= 0:
		return errors.Join(ErrBadOptions, errors.New("epochs must be positive"))
	case o.BatchSize <= 0:
		return errors.Join(ErrBadOptions, errors.New("batch size must be positive"))
	case o.LearningRate <= 0:
		return errors.Join(ErrBadOptions, errors.New("learning rate must be positive"))
	case o.LearningRateDecay != nil && (o.LearningRateDecay.Rate <= 0 || o.LearningRateDecay.EpochsPerDecay <= 0):
		return errors.Join(ErrBadOptions, errors.New("learning rate decay needs a positive rate and period"))
	}
	return nil
}
