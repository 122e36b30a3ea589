package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/menta2k/brandimage"
	"github.com/menta2k/brandimage/internal/utils"
	"github.com/menta2k/brandimage/pkg/types"
)

// Encode flags
var (
	encodeKindFlag string
	encodeOutFlag  string
	cropFlag       string
	zoomFlag       float64
)

var encodeCmd = &cobra.Command{
	Use:   "encode [files or directories...]",
	Short: "Encode images to budget-fitting WebP files without uploading",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEncode,
}

func init() {
	encodeCmd.Flags().StringVarP(&encodeKindFlag, "kind", "k", "logo", "Image kind: logo or cover")
	encodeCmd.Flags().StringVarP(&encodeOutFlag, "out", "o", "", "Output directory (default: next to the input)")
	addCropFlags(encodeCmd)
}

func addCropFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cropFlag, "crop", "", "Manual crop as x,y,width,height in crop UI coordinates")
	cmd.Flags().Float64Var(&zoomFlag, "zoom", 1, "Zoom of the crop UI; crop coordinates are divided by it")
}

func runEncode(cmd *cobra.Command, args []string) error {
	kind, err := types.ParseKind(encodeKindFlag)
	if err != nil {
		return err
	}
	crop, err := parseCrop(cropFlag, zoomFlag)
	if err != nil {
		return err
	}

	files, err := utils.ExpandInputs(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %v", args)
	}
	if encodeOutFlag != "" {
		if err := utils.EnsureDir(encodeOutFlag); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	p, err := newPipeline(cfg, nil)
	if err != nil {
		return err
	}

	var failed int
	for _, file := range files {
		if err := encodeFile(cmd.Context(), p, file, kind, crop); err != nil {
			log.Error().Err(err).Str("file", file).Msg("Encode failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(files))
	}
	return nil
}

func encodeFile(ctx context.Context, p *brandimage.Pipeline, file string, kind types.Kind, crop *types.ManualCrop) error {
	in, err := readInput(file, kind, crop)
	if err != nil {
		return err
	}

	res, err := p.Process(ctx, in)
	if err != nil {
		return err
	}

	out := utils.OutputFilename(file, encodeOutFlag, kind.String())
	if err := os.WriteFile(out, res.Blob.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	fmt.Printf("%s -> %s  %dx%d  q=%.2f  %s (from %s, %d attempts)\n",
		file, out, res.Blob.Width, res.Blob.Height, res.Blob.Quality,
		utils.FormatFileSize(int64(res.Blob.Size())), utils.FormatFileSize(int64(len(in.Data))), len(res.Attempts))
	return nil
}

func readInput(file string, kind types.Kind, crop *types.ManualCrop) (brandimage.Input, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return brandimage.Input{}, fmt.Errorf("read %s: %w", file, err)
	}
	return brandimage.Input{
		Data:     data,
		MIMEType: utils.MIMEFromExtension(file),
		Kind:     kind,
		Crop:     crop,
	}, nil
}

// parseCrop parses "x,y,width,height". An empty string means no manual crop.
func parseCrop(raw string, zoom float64) (*types.ManualCrop, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: want x,y,width,height; got %q", types.ErrInvalidCrop, raw)
	}

	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", types.ErrInvalidCrop, part, err)
		}
		v[i] = f
	}

	return &types.ManualCrop{
		Area: types.CropRectangle{X: v[0], Y: v[1], Width: v[2], Height: v[3]},
		Zoom: zoom,
	}, nil
}
