package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/menta2k/brandimage"
	"github.com/menta2k/brandimage/internal/utils"
	"github.com/menta2k/brandimage/pkg/types"
)

// Upload flags
var (
	entityFlag    string
	logoFileFlag  string
	coverFileFlag string
)

var uploadCmd = &cobra.Command{
	Use:   "upload --entity KEY [--logo FILE] [--cover FILE]",
	Short: "Encode images and upload them for an entity",
	Long: `Encode a logo and/or a cover image and upload them to
club-images/{entity}/{kind}.webp. A previous image of the same kind is
replaced. --crop and --zoom apply when exactly one image is given.`,
	Args: cobra.NoArgs,
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&entityFlag, "entity", "e", "", "Entity key the images belong to")
	uploadCmd.Flags().StringVar(&logoFileFlag, "logo", "", "Logo source image")
	uploadCmd.Flags().StringVar(&coverFileFlag, "cover", "", "Cover source image")
	addCropFlags(uploadCmd)
	uploadCmd.MarkFlagRequired("entity")
}

func runUpload(cmd *cobra.Command, args []string) error {
	files := map[types.Kind]string{}
	if logoFileFlag != "" {
		files[types.KindLogo] = logoFileFlag
	}
	if coverFileFlag != "" {
		files[types.KindCover] = coverFileFlag
	}
	if len(files) == 0 {
		return fmt.Errorf("nothing to upload: pass --logo and/or --cover")
	}

	crop, err := parseCrop(cropFlag, zoomFlag)
	if err != nil {
		return err
	}
	if crop != nil && len(files) > 1 {
		return fmt.Errorf("--crop applies to a single image; got %d", len(files))
	}

	var inputs []brandimage.Input
	for _, kind := range types.Kinds() {
		file, ok := files[kind]
		if !ok {
			continue
		}
		in, err := readInput(file, kind, crop)
		if err != nil {
			return err
		}
		inputs = append(inputs, in)
	}

	client, err := newStorageClient(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, client)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	outcomes, err := p.UploadAll(cmd.Context(), entityFlag, inputs, func(kind types.Kind, pct float64) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(os.Stderr, "\r%-5s %3.0f%%", kind, pct)
		if pct >= 100 {
			fmt.Fprintln(os.Stderr)
		}
	})
	if err != nil {
		return err
	}

	for _, kind := range types.Kinds() {
		o, ok := outcomes[kind]
		if !ok {
			continue
		}
		fmt.Printf("%s: %s (%dx%d, %s)\n", kind, o.Upload.DownloadURL,
			o.Encoded.Blob.Width, o.Encoded.Blob.Height, utils.FormatFileSize(int64(o.Encoded.Blob.Size())))
	}
	return nil
}
