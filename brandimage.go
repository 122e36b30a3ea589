// Package brandimage turns uploaded club logos and cover photos into WebP
// images that fit a fixed byte budget, and stores them.
//
// A source image is validated, decoded, cropped to the aspect ratio of its
// kind (1:1 for logos, 16:9 for covers) and encoded by an adaptive search
// over quality and dimensions. The result is uploaded under a stable path
// derived from the owning entity, so a new upload replaces the old image.
//
// Basic usage:
//
//	p := brandimage.New(brandimage.Options{
//		Uploader: storage.NewClient(storage.NewLocalBackend("./uploads", "/uploads"), storage.NewAnonymousAuth(nil)),
//	})
//
//	out, err := p.ProcessAndUpload(ctx, brandimage.Input{
//		Data: data,
//		Kind: types.KindLogo,
//	}, "club-42", func(pct float64) { fmt.Printf("%.0f%%\n", pct) })
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(out.Upload.DownloadURL)
//
// The package consists of these components:
//
//  1. Analyzer (pkg/analyzer): MIME and size checks before decoding
//  2. Processing (pkg/processing): decode, crop, resample and encode
//  3. Cropper (pkg/cropper): crop rectangles from ratio, focus or a manual selection
//  4. Encoder (pkg/encoder): the adaptive quality/dimension search
//  5. Storage (pkg/storage): anonymous sign-in and uploads to S3, disk or memory
//  6. Detection (pkg/detection): optional subject focus from a vision model
//     served by Ollama (pkg/ollama) or llama.cpp (pkg/llamacpp)
//  7. Vision (pkg/vision): model-free focus from local contrast
package brandimage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/brandimage/pkg/analyzer"
	"github.com/menta2k/brandimage/pkg/cropper"
	"github.com/menta2k/brandimage/pkg/encoder"
	"github.com/menta2k/brandimage/pkg/processing"
	"github.com/menta2k/brandimage/pkg/storage"
	"github.com/menta2k/brandimage/pkg/types"
)

// Version of the brandimage library
const Version = "1.0.0"

// ErrNoUploader is returned by upload operations of a Pipeline built without
// an Uploader.
var ErrNoUploader = errors.New("no uploader configured")

// FocusFinder locates the point of interest of a decoded source. A nil focus
// without error means "centre the crop".
type FocusFinder interface {
	Focus(ctx context.Context, src *types.SourceImage) (*types.Focus, error)
}

// Uploader stores an encoded blob for an entity.
type Uploader interface {
	Upload(ctx context.Context, entityKey string, kind types.Kind, blob types.EncodedBlob, progress types.ProgressFunc) (types.UploadResult, error)
}

// Options configures a Pipeline. Zero values select the defaults.
type Options struct {
	Specs            map[types.Kind]types.OutputSpec
	AllowedTypes     []string
	RejectUndersized bool
	Engine           processing.Engine
	Focus            FocusFinder
	Uploader         Uploader
}

// Pipeline runs validate, decode, crop, encode and upload for one image.
// A Pipeline is safe for concurrent use; every call keeps its own state.
type Pipeline struct {
	validator *analyzer.Validator
	engine    processing.Engine
	resolver  *cropper.Resolver
	encoder   *encoder.Encoder
	focus     FocusFinder
	uploader  Uploader
}

// New creates a Pipeline from opts.
func New(opts Options) *Pipeline {
	specs := opts.Specs
	if specs == nil {
		specs = types.DefaultSpecs()
	}
	engine := opts.Engine
	if engine == nil {
		engine = processing.NewProcessor()
	}
	resolver := cropper.NewWithSpecs(specs)

	return &Pipeline{
		validator: analyzer.NewWithConfig(analyzer.Config{
			AllowedTypes:     opts.AllowedTypes,
			Specs:            specs,
			RejectUndersized: opts.RejectUndersized,
		}),
		engine:   engine,
		resolver: resolver,
		encoder:  encoder.New(engine, resolver),
		focus:    opts.Focus,
		uploader: opts.Uploader,
	}
}

// Input is one source image to process.
type Input struct {
	Data     []byte
	MIMEType string // declared type; sniffed from Data when empty
	Kind     types.Kind
	Crop     *types.ManualCrop // manual selection; nil for automatic cropping
}

// Outcome is a processed and uploaded image.
type Outcome struct {
	Encoded *encoder.Result
	Upload  types.UploadResult
}

// Process validates, decodes, crops and encodes in. Nothing is retried: the
// first error aborts and is returned as is.
func (p *Pipeline) Process(ctx context.Context, in Input) (*encoder.Result, error) {
	start := time.Now()

	mime, err := p.validator.Validate(in.Kind, in.MIMEType, in.Data)
	if err != nil {
		return nil, err
	}

	src, err := p.engine.Decode(in.Data)
	if err != nil {
		return nil, err
	}
	if err := p.validator.ValidateDimensions(src, in.Kind); err != nil {
		return nil, err
	}
	if p.validator.Undersized(src, in.Kind) {
		info := analyzer.GetImageInfo(src)
		log.Debug().
			Str("kind", in.Kind.String()).
			Int("width", info.Width).
			Int("height", info.Height).
			Float64("aspect_ratio", info.AspectRatio).
			Msg("Source is smaller than the output floor, it will be upscaled")
	}

	var focus *types.Focus
	if in.Crop == nil && p.focus != nil {
		focus, err = p.focus.Focus(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("kind", in.Kind.String()).Msg("Focus detection failed, centre cropping")
			focus = nil
		}
	}

	crop, err := p.resolver.Resolve(src.Width, src.Height, in.Kind, in.Crop, focus)
	if err != nil {
		return nil, err
	}

	res, err := p.encoder.Encode(ctx, src, crop, in.Kind)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("kind", in.Kind.String()).
		Str("source_type", mime).
		Int("source_width", src.Width).
		Int("source_height", src.Height).
		Int("width", res.Blob.Width).
		Int("height", res.Blob.Height).
		Float64("quality", res.Blob.Quality).
		Int("bytes", res.Blob.Size()).
		Int("attempts", len(res.Attempts)).
		Dur("elapsed", time.Since(start)).
		Msg("Image encoded")

	return res, nil
}

// ProcessAndUpload processes in and uploads the result for entityKey.
// Encoding errors and upload errors stay distinguishable: the latter match
// types.ErrUploadFailed.
func (p *Pipeline) ProcessAndUpload(ctx context.Context, in Input, entityKey string, progress types.ProgressFunc) (*Outcome, error) {
	if p.uploader == nil {
		return nil, ErrNoUploader
	}
	if err := storage.ValidateEntityKey(entityKey); err != nil {
		return nil, err
	}

	res, err := p.Process(ctx, in)
	if err != nil {
		return nil, err
	}

	up, err := p.uploader.Upload(ctx, entityKey, in.Kind, res.Blob, progress)
	if err != nil {
		return nil, err
	}
	return &Outcome{Encoded: res, Upload: up}, nil
}

// UploadAll processes and uploads inputs concurrently, at most one per kind.
// progress receives the per-kind percentages. The first error cancels the
// remaining work.
func (p *Pipeline) UploadAll(ctx context.Context, entityKey string, inputs []Input, progress func(kind types.Kind, percent float64)) (map[types.Kind]*Outcome, error) {
	seen := make(map[types.Kind]bool, len(inputs))
	for _, in := range inputs {
		if seen[in.Kind] {
			return nil, fmt.Errorf("duplicate input for kind %q", in.Kind)
		}
		seen[in.Kind] = true
	}

	var mu sync.Mutex
	out := make(map[types.Kind]*Outcome, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	for _, in := range inputs {
		g.Go(func() error {
			var fn types.ProgressFunc
			if progress != nil {
				fn = func(pct float64) { progress(in.Kind, pct) }
			}
			o, err := p.ProcessAndUpload(ctx, in, entityKey, fn)
			if err != nil {
				return fmt.Errorf("%s: %w", in.Kind, err)
			}
			mu.Lock()
			out[in.Kind] = o
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Optimize shrinks an already processed blob into the budget of kind. Blobs
// already within budget are returned unchanged.
func (p *Pipeline) Optimize(ctx context.Context, data []byte, kind types.Kind) (*encoder.Result, error) {
	return p.encoder.Optimize(ctx, data, kind)
}

// Spec returns the output spec of kind.
func (p *Pipeline) Spec(kind types.Kind) (types.OutputSpec, error) {
	return p.resolver.Spec(kind)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
