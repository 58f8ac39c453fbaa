package pipeline

import (
	"github.com/Brownie44l1/imgclass/internal/config"
	"github.com/Brownie44l1/imgclass/internal/train"
)

// TrainOptions maps the trainer section of cfg onto train.Options.
func TrainOptions(cfg *config.Config) train.Options {
	tc := cfg.Trainer
	opts := train.Options{
		Arch:           cfg.Backbone.Arch,
		Epochs:         tc.Epochs,
		BatchSize:      tc.BatchSize,
		LearningRate:   tc.LearningRate,
		L2:             tc.L2,
		Seed:           cfg.Seed,
		TestOnTrainSet: tc.TestOnTrainSet,

		ReuseTrainSetBottleneckCachedValues:      tc.ReuseTrainSetBottleneckCachedValues,
		ReuseValidationSetBottleneckCachedValues: tc.ReuseValidationSetBottleneckCachedValues,
	}
	if tc.DecayRate > 0 {
		per := tc.EpochsPerDecay
		if per <= 0 {
			per = 2.5
		}
		opts.LearningRateDecay = &train.LearningRateDecay{Rate: tc.DecayRate, EpochsPerDecay: per}
	}
	if tc.EarlyStopping {
		opts.EarlyStopping = &train.EarlyStopping{Patience: max(tc.Patience, 1), MinDelta: tc.MinDelta}
	}
	return opts
}
