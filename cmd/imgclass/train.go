package main

import (
	"fmt"

	"github.com/Brownie44l1/imgclass/internal/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	trainAssets    string
	trainWorkspace string
	trainByPrefix  bool
	trainMetrics   bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the head and classify test images",
	Long: `Scans the assets tree, shuffles and splits it into train, validation and
test sets, computes bottleneck features, fits the classification head and
prints predictions for one and then several test images.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainAssets, "assets", "", "assets directory (overrides config)")
	trainCmd.Flags().StringVar(&trainWorkspace, "workspace", "", "workspace directory (overrides config)")
	trainCmd.Flags().BoolVar(&trainByPrefix, "prefix-labels", false, "label by leading letters of the file name instead of the folder")
	trainCmd.Flags().BoolVar(&trainMetrics, "metrics", false, "print trainer metrics")
}

func runTrain(cmd *cobra.Command, args []string) error {
	if trainAssets != "" {
		cfg.Assets = trainAssets
	}
	if trainWorkspace != "" {
		cfg.Workspace = trainWorkspace
	}
	if trainByPrefix {
		cfg.UseFolderNameAsLabel = false
	}

	ex, err := openBackbone()
	if err != nil {
		return err
	}
	defer ex.Close()

	report, err := pipeline.Run(cmd.Context(), cfg, ex, logger)
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	if trainMetrics {
		for _, line := range report.MetricsLog {
			fmt.Fprintln(out, line)
		}
	}
	for _, line := range report.Log {
		fmt.Fprintln(out, line)
	}
	if report.Single != nil {
		fmt.Fprintf(out, "Test micro accuracy: %.4f, macro accuracy: %.4f, log loss: %.4f\n",
			report.Test.MicroAccuracy, report.Test.MacroAccuracy, report.Test.LogLoss)
		fmt.Fprint(out, report.Test.ConfusionMatrix.String())
	}
	return nil
}
