package train

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clusters returns n points per class around well separated centers.
func clusters(n int, seed int64) Split {
	centers := [][]float32{{5, 0, 1}, {-5, 0, 1}, {0, 5, -1}}
	rng := rand.New(rand.NewSource(seed))
	var s Split
	for k, c := range centers {
		for i := 0; i < n; i++ {
			s.Features = append(s.Features, []float32{
				c[0] + float32(rng.NormFloat64()),
				c[1] + float32(rng.NormFloat64()),
				c[2],
			})
			s.Keys = append(s.Keys, uint32(k))
		}
	}
	return s
}

var labels = []string{"east", "west", "north"}

func TestFit_Separable(t *testing.T) {
	opts := DefaultOptions()
	opts.Epochs = 30
	opts.EarlyStopping = nil
	opts.LearningRate = 0.1

	var got []Metrics
	opts.MetricsCallback = func(m Metrics) { got = append(got, m) }

	c, err := Fit(context.Background(), clusters(30, 1), clusters(10, 2), labels, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, c.NumClasses())
	require.Len(t, got, 60)

	last := got[len(got)-1].Train
	require.NotNil(t, last)
	assert.Equal(t, DatasetValidation, last.DatasetUsed)
	assert.Equal(t, 29, last.Epoch)
	assert.GreaterOrEqual(t, last.Accuracy, 0.95)
	assert.Equal(t, 9*30, last.BatchProcessedCount)
	assert.Less(t, got[len(got)-2].Train.LearningRate, opts.LearningRate)

	key, scores, err := c.Predict([]float32{-5, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, "west", c.Label(key))
	var sum float32
	for _, s := range scores {
		sum += s
	}
	assert.InDelta(t, 1.0, sum, 1e-4)

	_, _, err = c.Predict([]float32{1})
	require.Error(t, err)
}

func TestFit_EarlyStopping(t *testing.T) {
	opts := DefaultOptions()
	opts.Epochs = 500
	opts.LearningRate = 0.1
	opts.EarlyStopping = &EarlyStopping{Patience: 3, MinDelta: 0.01}
	epochs := 0
	opts.MetricsCallback = func(m Metrics) {
		if m.Train.DatasetUsed == DatasetTrain {
			epochs++
		}
	}
	c, err := Fit(context.Background(), clusters(20, 3), Split{}, labels, opts)
	require.NoError(t, err)
	assert.Less(t, epochs, 500)
	key, _, err := c.Predict([]float32{0, 5, -1})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), key)
}

// noisy returns n points per class with heavily overlapping centers, so
// held-out accuracy moves around from epoch to epoch.
func noisy(n int, seed int64) Split {
	rng := rand.New(rand.NewSource(seed))
	var s Split
	for k := 0; k < 3; k++ {
		for i := 0; i < n; i++ {
			s.Features = append(s.Features, []float32{
				float32(k) + 2*float32(rng.NormFloat64()),
				float32(rng.NormFloat64()),
			})
			s.Keys = append(s.Keys, uint32(k))
		}
	}
	return s
}

func validationHistory(opts *Options) *[]TrainMetrics {
	var h []TrainMetrics
	opts.MetricsCallback = func(m Metrics) {
		if m.Train != nil && m.Train.DatasetUsed == DatasetValidation {
			h = append(h, *m.Train)
		}
	}
	return &h
}

func TestFit_EarlyStoppingRestoresBestAccuracy(t *testing.T) {
	train, valid := noisy(40, 5), noisy(15, 6)
	opts := DefaultOptions()
	opts.Epochs = 60
	opts.LearningRate = 0.5
	opts.EarlyStopping = &EarlyStopping{Patience: 10, MinDelta: 0}
	history := validationHistory(&opts)

	c, err := Fit(context.Background(), train, valid, labels, opts)
	require.NoError(t, err)
	require.NotEmpty(t, *history)

	best := 0.0
	for _, m := range *history {
		best = math.Max(best, m.Accuracy)
	}
	acc, _ := c.score(c.standardizeAll(valid.Features), valid.Keys)
	assert.Equal(t, best, acc)
}

func TestFit_EarlyStoppingOnLoss(t *testing.T) {
	train, valid := noisy(40, 7), noisy(15, 8)
	opts := DefaultOptions()
	opts.Epochs = 60
	opts.LearningRate = 0.5
	opts.EarlyStopping = &EarlyStopping{Patience: 5, MinDelta: 0, Metric: EarlyStopLoss}
	history := validationHistory(&opts)

	c, err := Fit(context.Background(), train, valid, labels, opts)
	require.NoError(t, err)

	lowest := math.Inf(1)
	for _, m := range *history {
		lowest = math.Min(lowest, m.CrossEntropy)
	}
	_, loss := c.score(c.standardizeAll(valid.Features), valid.Keys)
	assert.Equal(t, lowest, loss)

	opts.Epochs = 500
	opts.EarlyStopping = &EarlyStopping{Patience: 3, MinDelta: 0.05, Metric: EarlyStopLoss}
	history = validationHistory(&opts)
	_, err = Fit(context.Background(), train, valid, labels, opts)
	require.NoError(t, err)
	assert.Less(t, len(*history), 500)
}

func TestFit_LearningRateDecay(t *testing.T) {
	opts := DefaultOptions()
	opts.Epochs = 6
	opts.EarlyStopping = nil
	var rates []float64
	opts.MetricsCallback = func(m Metrics) { rates = append(rates, m.Train.LearningRate) }

	_, err := Fit(context.Background(), clusters(5, 10), Split{}, labels, opts)
	require.NoError(t, err)
	require.Len(t, rates, 6)
	assert.Equal(t, 0.01, rates[0])
	assert.InDelta(t, 0.01*math.Pow(0.94, 5/2.5), rates[5], 1e-15)

	opts.LearningRateDecay = nil
	rates = nil
	_, err = Fit(context.Background(), clusters(5, 10), Split{}, labels, opts)
	require.NoError(t, err)
	assert.Equal(t, 0.01, rates[5])
}

func TestFit_TestOnTrainSet(t *testing.T) {
	opts := DefaultOptions()
	opts.Epochs = 5
	opts.TestOnTrainSet = true
	opts.EarlyStopping = nil
	var train []TrainMetrics
	opts.MetricsCallback = func(m Metrics) { train = append(train, *m.Train) }
	_, err := Fit(context.Background(), clusters(10, 4), Split{}, labels, opts)
	require.NoError(t, err)
	require.Len(t, train, 5)
	for _, m := range train {
		assert.Equal(t, DatasetTrain, m.DatasetUsed)
		assert.Greater(t, m.CrossEntropy, 0.0)
	}
}

func TestFit_Errors(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()

	_, err := Fit(ctx, Split{}, Split{}, labels, opts)
	require.ErrorIs(t, err, ErrEmptyTrainSet)

	bad := opts
	bad.BatchSize = 0
	_, err = Fit(ctx, clusters(2, 1), Split{}, labels, bad)
	require.ErrorIs(t, err, ErrBadOptions)

	s := clusters(2, 1)
	s.Keys[0] = 7
	_, err = Fit(ctx, s, Split{}, labels, opts)
	require.ErrorIs(t, err, ErrBadOptions)

	_, err = Fit(ctx, clusters(2, 1), Split{Features: [][]float32{{1}}, Keys: []uint32{0}}, labels, opts)
	require.ErrorIs(t, err, ErrBadOptions)

	_, err = Fit(ctx, Split{Features: [][]float32{{}}, Keys: []uint32{0}}, Split{}, labels, opts)
	require.ErrorIs(t, err, ErrBadOptions)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Fit(cctx, clusters(2, 1), Split{}, labels, opts)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifier_SaveLoad(t *testing.T) {
	opts := DefaultOptions()
	opts.Epochs = 5
	opts.Arch = "pixels"
	c, err := Fit(context.Background(), clusters(5, 9), Split{}, labels, opts)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ws", "head.json")
	require.NoError(t, c.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestMetricsString(t *testing.T) {
	m := Metrics{Train: &TrainMetrics{DatasetUsed: DatasetValidation, Epoch: 4, Accuracy: 0.5, CrossEntropy: 0.25, LearningRate: 0.01, BatchProcessedCount: 13}}
	s := m.String()
	assert.True(t, strings.HasPrefix(s, "Phase: Training, Dataset used: Validation, Batch Processed Count:  13"))
	assert.Contains(t, s, "Epoch:   4")

	m = Metrics{Train: &TrainMetrics{DatasetUsed: DatasetTrain, Epoch: 4, Accuracy: 0.83, CrossEntropy: 0.41, LearningRate: 0.0094, BatchProcessedCount: 13}}
	assert.Equal(t, "Phase: Training, Dataset used:      Train, Batch Processed Count:  13, Learning Rate:     0.0094 Epoch:   4, Accuracy:       0.83, Cross-Entropy:       0.41", m.String())

	b := Metrics{Bottleneck: &BottleneckMetrics{DatasetUsed: DatasetTrain, Index: 7}}
	assert.Equal(t, "Phase: Bottleneck Computation, Dataset used:      Train, Image Index:    7", b.String())
	assert.Equal(t, "", Metrics{}.String())
}
