package train

import "fmt"

type Dataset int

const (
	DatasetTrain Dataset = iota
	DatasetValidation
)

func (d Dataset) String() string {
	if d == DatasetValidation {
		return "Validation"
	}
	return "Train"
}

// TrainMetrics is reported once per epoch and data set.
type TrainMetrics struct {
	DatasetUsed         Dataset
	Epoch               int
	Accuracy            float64
	CrossEntropy        float64
	LearningRate        float64
	BatchProcessedCount int
}

// BottleneckMetrics is reported for every image passed through the backbone.
type BottleneckMetrics struct {
	DatasetUsed Dataset
	Index       int
}

// Metrics carries exactly one of Train or Bottleneck.
type Metrics struct {
	Train      *TrainMetrics
	Bottleneck *BottleneckMetrics
}

func (m TrainMetrics) String() string {
	return fmt.Sprintf("Phase: Training, Dataset used: %10s, Batch Processed Count: %3d, Learning Rate: %10.6g Epoch: %3d, Accuracy: %10.6g, Cross-Entropy: %10.6g",
		m.DatasetUsed, m.BatchProcessedCount, m.LearningRate, m.Epoch, m.Accuracy, m.CrossEntropy)
}

func (m BottleneckMetrics) String() string {
	return fmt.Sprintf("Phase: Bottleneck Computation, Dataset used: %10s, Image Index: %4d", m.DatasetUsed, m.Index)
}

func (m Metrics) String() string {
	switch {
	case m.Train != nil:
		return m.Train.String()
	case m.Bottleneck != nil:
		return m.Bottleneck.String()
	}
	return ""
}
