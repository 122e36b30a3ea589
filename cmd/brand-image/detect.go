package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/menta2k/brandimage/pkg/processing"
	"github.com/menta2k/brandimage/pkg/types"
)

var testVisionFlag bool

var detectCmd = &cobra.Command{
	Use:   "detect FILE",
	Short: "Ask the focus model where the subject of an image is",
	Long: `Run the configured focus backend (focus.backend = "ollama") on an image and
print the model answer. The focus is the point automatic crops are centred on.`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().BoolVar(&testVisionFlag, "test-vision", false, "Only ask the model to describe the image")
}

func runDetect(cmd *cobra.Command, args []string) error {
	detector, err := newDetector(cfg)
	if err != nil {
		return err
	}
	if detector == nil {
		return fmt.Errorf("focus detection is disabled; set focus.backend to ollama")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	engine, err := processing.NewProcessorWithConfig(processing.Config{
		Filter:     cfg.Raster.Filter,
		AutoOrient: cfg.Raster.AutoOrient,
	})
	if err != nil {
		return err
	}
	src, err := engine.Decode(data)
	if err != nil {
		return err
	}

	if testVisionFlag {
		answer, err := detector.TestVision(cmd.Context(), src)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	result, err := detector.DetectSubject(cmd.Context(), src)
	if err != nil {
		return err
	}
	focus, err := detector.Focus(cmd.Context(), src)
	if err != nil {
		return err
	}

	return writeDetection(cmd.OutOrStdout(), result, focus)
}

func writeDetection(w io.Writer, result *types.SubjectResult, focus *types.Focus) error {
	out := map[string]any{"subject": result, "focus": focus}
	js, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode detection: %w", err)
	}
	_, err = fmt.Fprintln(w, string(js))
	return err
}
