// Package encoder produces WebP blobs that fit a kind's byte budget.
//
// The search is fixed and monotone: the quality ladder of the kind is tried
// first at the initial output size, then both dimensions are shrunk step by
// step at the lowest quality until the longer side reaches the kind's floor.
// Quality never rises after it was lowered and dimensions never grow after
// they were shrunk, so the outcome is deterministic for a given source.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/brandimage/pkg/cropper"
	"github.com/menta2k/brandimage/pkg/processing"
	"github.com/menta2k/brandimage/pkg/types"
)

// Encoder runs the adaptive quality/dimension search.
type Encoder struct {
	engine   processing.Engine
	resolver *cropper.Resolver
	mime     string
}

// New returns an Encoder producing WebP output.
func New(engine processing.Engine, resolver *cropper.Resolver) *Encoder {
	return &Encoder{engine: engine, resolver: resolver, mime: processing.MIMEWebP}
}

// Result is a successful encode.
type Result struct {
	Blob     types.EncodedBlob
	Crop     types.CropRectangle
	Attempts []types.Attempt
}

// Encode rasterizes crop of src and searches for the first encoding that fits
// the byte budget of kind. The common case is a single encode pass.
func (e *Encoder) Encode(ctx context.Context, src *types.SourceImage, crop types.CropRectangle, kind types.Kind) (*Result, error) {
	spec, err := e.resolver.Spec(kind)
	if err != nil {
		return nil, err
	}
	if len(spec.Qualities) == 0 {
		return nil, fmt.Errorf("%s: empty quality ladder", kind)
	}

	s := search{enc: e, src: src, crop: crop, spec: spec}
	width, height := cropper.OutputSize(crop, spec)

	if err := s.rasterize(width, height); err != nil {
		return nil, err
	}

	for _, q := range spec.Qualities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := s.try(q)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.result(), nil
		}
	}

	lowest := spec.Qualities[len(spec.Qualities)-1]
	for longerSide(width, height) > spec.MinDimension {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		width, height = Shrink(width, height, spec)
		if err := s.rasterize(width, height); err != nil {
			return nil, err
		}
		ok, err := s.try(lowest)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.result(), nil
		}
	}

	log.Warn().
		Str("kind", kind.String()).
		Int("attempts", len(s.attempts)).
		Int64("max_bytes", spec.MaxBytes).
		Msg("Adaptive search exhausted")

	return nil, &types.OptimizationError{Kind: kind, MaxBytes: spec.MaxBytes, Attempts: s.attempts}
}

// Optimize re-encodes an already processed blob. A blob within the byte
// budget is returned unchanged without decoding or re-encoding it.
func (e *Encoder) Optimize(ctx context.Context, data []byte, kind types.Kind) (*Result, error) {
	spec, err := e.resolver.Spec(kind)
	if err != nil {
		return nil, err
	}

	if int64(len(data)) <= spec.MaxBytes {
		blob := types.EncodedBlob{Data: data, MIMEType: http.DetectContentType(data)}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			blob.Width, blob.Height = cfg.Width, cfg.Height
		}
		log.Debug().
			Str("kind", kind.String()).
			Int("bytes", len(data)).
			Msg("Blob already within budget")
		return &Result{Blob: blob}, nil
	}

	src, err := e.engine.Decode(data)
	if err != nil {
		return nil, err
	}
	crop, err := e.resolver.Resolve(src.Width, src.Height, kind, nil, nil)
	if err != nil {
		return nil, err
	}
	return e.Encode(ctx, src, crop, kind)
}

// Shrink scales both dimensions by the spec's shrink factor, rounding down.
// The longer side never drops below MinDimension; when it would, the size is
// clamped so the longer side equals MinDimension with the aspect preserved.
func Shrink(width, height int, spec types.OutputSpec) (int, int) {
	nw := int(math.Floor(float64(width) * spec.ShrinkFactor))
	nh := int(math.Floor(float64(height) * spec.ShrinkFactor))

	if longerSide(nw, nh) < spec.MinDimension {
		longer := longerSide(width, height)
		nw = width * spec.MinDimension / longer
		nh = height * spec.MinDimension / longer
	}
	return max(nw, 1), max(nh, 1)
}

func longerSide(w, h int) int {
	return max(w, h)
}

// search holds the state of one invocation. It is never shared.
type search struct {
	enc      *Encoder
	src      *types.SourceImage
	crop     types.CropRectangle
	spec     types.OutputSpec
	surface  processing.Surface
	data     []byte
	quality  float64
	attempts []types.Attempt
}

func (s *search) rasterize(width, height int) error {
	surface, err := s.enc.engine.Rasterize(s.src, s.crop, width, height)
	if err != nil {
		return fmt.Errorf("rasterize %dx%d: %w", width, height, err)
	}
	s.surface = surface
	return nil
}

// try encodes the current surface at q and reports whether it fits.
func (s *search) try(q float64) (bool, error) {
	data, err := s.surface.Encode(s.enc.mime, q)
	if err != nil {
		return false, fmt.Errorf("%w: encode at quality %.2f: %v", types.ErrRasterContextUnavailable, q, err)
	}

	a := types.Attempt{
		Width:   s.surface.Width(),
		Height:  s.surface.Height(),
		Quality: q,
		Bytes:   len(data),
	}
	s.attempts = append(s.attempts, a)

	log.Debug().
		Str("kind", s.spec.Kind.String()).
		Int("width", a.Width).
		Int("height", a.Height).
		Float64("quality", q).
		Int("bytes", a.Bytes).
		Int64("max_bytes", s.spec.MaxBytes).
		Msg("Encode attempt")

	if int64(len(data)) > s.spec.MaxBytes {
		return false, nil
	}
	s.data = data
	s.quality = q
	return true, nil
}

func (s *search) result() *Result {
	return &Result{
		Blob: types.EncodedBlob{
			Data:     s.data,
			MIMEType: s.enc.mime,
			Width:    s.surface.Width(),
			Height:   s.surface.Height(),
			Quality:  s.quality,
		},
		Crop:     s.crop,
		Attempts: s.attempts,
	}
}
