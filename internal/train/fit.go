package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Split is a featurized data set: one bottleneck vector and one label key per
// row.
type Split struct {
	Features [][]float32
	Keys     []uint32
}

func (s Split) Len() int { return len(s.Keys) }

func (s Split) check(dim, classes int) error {
	if len(s.Features) != len(s.Keys) {
		return fmt.Errorf("%w: %d feature rows, %d keys", ErrBadOptions, len(s.Features), len(s.Keys))
	}
	for i, f := range s.Features {
		if len(f) != dim {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrBadOptions, i, len(f), dim)
		}
		if int(s.Keys[i]) >= classes {
			return fmt.Errorf("%w: row %d has key %d, only %d classes", ErrBadOptions, i, s.Keys[i], classes)
		}
	}
	return nil
}

// Fit trains a softmax head with mini-batch SGD on cross-entropy and L2 weight
// decay. Metrics for the train set, and the validation set when it is not
// empty, are sent to opts.MetricsCallback after each epoch.
func Fit(ctx context.Context, trainSet, validationSet Split, labels []string, opts Options) (*Classifier, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if trainSet.Len() == 0 {
		return nil, ErrEmptyTrainSet
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrBadOptions)
	}
	dim := len(trainSet.Features[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: no features", ErrBadOptions)
	}
	if err := trainSet.check(dim, len(labels)); err != nil {
		return nil, err
	}
	if err := validationSet.check(dim, len(labels)); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := newClassifier(opts.Arch, labels, dim)
	c.fitStandardization(trainSet.Features)
	xTrain := c.standardizeAll(trainSet.Features)
	xValid := c.standardizeAll(validationSet.Features)
	w := c.weights()

	rng := rand.New(rand.NewSource(opts.Seed))
	order := make([]int, trainSet.Len())
	for i := range order {
		order[i] = i
	}

	var (
		best      = c.clone()
		bestScore = math.Inf(-1)
		stale     int
		batches   int
	)

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		lr := opts.LearningRate
		if d := opts.LearningRateDecay; d != nil {
			lr = d.at(lr, epoch)
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var correct int
		var loss float64
		for start := 0; start < len(order); start += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			batch := order[start:min(start+opts.BatchSize, len(order))]
			xb := mat.NewDense(len(batch), dim, nil)
			for j, idx := range batch {
				xb.SetRow(j, xTrain.RawRowView(idx))
			}

			// z holds the logits, then softmax minus the one-hot target,
			// which is the gradient of cross-entropy w.r.t. the logits.
			var z mat.Dense
			z.Mul(xb, w.T())
			for j, idx := range batch {
				y := int(trainSet.Keys[idx])
				row := z.RawRowView(j)
				floats.Add(row, c.Bias)
				if floats.MaxIdx(row) == y {
					correct++
				}
				loss += softmax(row, y)
				row[y]--
			}

			step := lr / float64(len(batch))
			var grad mat.Dense
			grad.Mul(z.T(), xb)
			grad.Scale(-step, &grad)
			w.Scale(1-lr*opts.L2, w)
			w.Add(w, &grad)
			for k := range c.Bias {
				c.Bias[k] -= step * floats.Sum(mat.Col(nil, k, &z))
			}
			batches++
		}

		tm := TrainMetrics{
			DatasetUsed:         DatasetTrain,
			Epoch:               epoch,
			Accuracy:            float64(correct) / float64(len(order)),
			CrossEntropy:        loss / float64(len(order)),
			LearningRate:        lr,
			BatchProcessedCount: batches,
		}
		if opts.TestOnTrainSet {
			tm.Accuracy, tm.CrossEntropy = c.score(xTrain, trainSet.Keys)
		}
		emit(opts.MetricsCallback, tm)
		monitor := tm

		if xValid != nil {
			vm := TrainMetrics{DatasetUsed: DatasetValidation, Epoch: epoch, LearningRate: lr, BatchProcessedCount: batches}
			vm.Accuracy, vm.CrossEntropy = c.score(xValid, validationSet.Keys)
			emit(opts.MetricsCallback, vm)
			monitor = vm
		}

		es := opts.EarlyStopping
		if es == nil {
			continue
		}
		score := monitor.Accuracy
		if es.Metric == EarlyStopLoss {
			score = -monitor.CrossEntropy
		}
		if score-bestScore > es.MinDelta {
			bestScore = score
			best = c.clone()
			stale = 0
			continue
		}
		stale++
		if stale >= es.Patience {
			log.Info("early stopping",
				zap.Int("epoch", epoch),
				zap.String("dataset", monitor.DatasetUsed.String()),
				zap.Float64("best", math.Abs(bestScore)))
			break
		}
	}

	if opts.EarlyStopping != nil {
		return best, nil
	}
	return c, nil
}

func emit(cb func(Metrics), m TrainMetrics) {
	if cb != nil {
		cb(Metrics{Train: &m})
	}
}

// score returns accuracy and mean cross-entropy over standardized rows.
func (c *Classifier) score(x *mat.Dense, keys []uint32) (float64, float64) {
	correct := make([]float64, len(keys))
	loss := make([]float64, len(keys))
	for i, key := range keys {
		z := c.logits(x.RawRowView(i))
		if floats.MaxIdx(z) == int(key) {
			correct[i] = 1
		}
		loss[i] = softmax(z, int(key))
	}
	return stat.Mean(correct, nil), stat.Mean(loss, nil)
}

func (c *Classifier) fitStandardization(rows [][]float32) {
	col := make([]float64, len(rows))
	for i := 0; i < c.Dim; i++ {
		for j, r := range rows {
			col[j] = float64(r[i])
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		c.Shift[i] = mean
		if std > 1e-6 {
			c.Scale[i] = 1 / std
		} else {
			c.Scale[i] = 1
		}
	}
}

// standardizeAll returns the standardized rows as a matrix, or nil when there
// are none.
func (c *Classifier) standardizeAll(rows [][]float32) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	x := mat.NewDense(len(rows), c.Dim, nil)
	for i, r := range rows {
		c.standardize(r, x.RawRowView(i))
	}
	return x
}
