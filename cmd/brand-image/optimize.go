package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/menta2k/brandimage/internal/utils"
	"github.com/menta2k/brandimage/pkg/types"
)

// Optimize flags
var (
	optimizeKindFlag string
	optimizeOutFlag  string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize FILE",
	Short: "Shrink an already processed image into the byte budget of its kind",
	Args:  cobra.ExactArgs(1),
	RunE:  runOptimize,
}

func init() {
	optimizeCmd.Flags().StringVarP(&optimizeKindFlag, "kind", "k", "logo", "Image kind: logo or cover")
	optimizeCmd.Flags().StringVarP(&optimizeOutFlag, "out", "o", "", "Output file (default: <input>_optimized.webp)")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	kind, err := types.ParseKind(optimizeKindFlag)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	p, err := newPipeline(cfg, nil)
	if err != nil {
		return err
	}
	res, err := p.Optimize(cmd.Context(), data, kind)
	if err != nil {
		return err
	}

	if len(res.Attempts) == 0 {
		fmt.Printf("%s is already within budget (%s)\n", args[0], utils.FormatFileSize(int64(len(data))))
		return nil
	}

	out := optimizeOutFlag
	if out == "" {
		out = utils.OutputFilename(args[0], "", "optimized")
	}
	if err := os.WriteFile(out, res.Blob.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s -> %s  %s -> %s\n", args[0], out,
		utils.FormatFileSize(int64(len(data))), utils.FormatFileSize(int64(res.Blob.Size())))
	return nil
}
