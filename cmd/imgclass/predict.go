package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Brownie44l1/imgclass/internal/dataset"
	"github.com/Brownie44l1/imgclass/internal/pipeline"
	"github.com/Brownie44l1/imgclass/internal/train"
	"github.com/spf13/cobra"
)

var predictCmd = &cobra.Command{
	Use:   "predict [image]...",
	Short: "Classify images with the trained head",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPredict,
}

// loadEngine opens the backbone and the saved head. The caller closes the
// returned closer.
func loadEngine() (*pipeline.PredictionEngine, func() error, error) {
	clf, err := train.Load(cfg.HeadPath())
	if err != nil {
		return nil, nil, err
	}
	if clf.Arch != "" && clf.Arch != cfg.Backbone.Arch {
		return nil, nil, fmt.Errorf("head was trained on %s, config selects %s", clf.Arch, cfg.Backbone.Arch)
	}
	ex, err := openBackbone()
	if err != nil {
		return nil, nil, err
	}
	engine, err := pipeline.NewPredictionEngine(ex, clf)
	if err != nil {
		ex.Close()
		return nil, nil, err
	}
	return engine, ex.Close, nil
}

func runPredict(cmd *cobra.Command, args []string) error {
	engine, closeFn, err := loadEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		label := filepath.Base(filepath.Dir(path))
		if !cfg.UseFolderNameAsLabel {
			label = dataset.LabelFromFileName(filepath.Base(path))
		}
		p, err := engine.Predict(dataset.ModelInput{Image: data, Path: path, Label: label})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, pipeline.OutputPrediction(p))
	}
	return nil
}
