package cropper

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/brandimage/pkg/types"
)

// ratioEpsilon is the tolerance under which a crop already has the target ratio.
const ratioEpsilon = 1e-9

// AspectRatio represents a target aspect ratio
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Supported aspect ratios
var (
	Square     = AspectRatio{1, 1, "square"}
	Widescreen = AspectRatio{16, 9, "widescreen"}
)

// Ratio returns width/height as a float.
func (a AspectRatio) Ratio() float64 {
	return float64(a.Width) / float64(a.Height)
}

// AspectRatioOf returns the aspect ratio configured by an output spec.
func AspectRatioOf(spec types.OutputSpec) AspectRatio {
	return AspectRatio{spec.AspectWidth, spec.AspectHeight, spec.Kind.String()}
}

// Resolver derives the final crop rectangle of an image for a kind.
type Resolver struct {
	specs map[types.Kind]types.OutputSpec
}

// New creates a Resolver with the default output specs
func New() *Resolver {
	return &Resolver{specs: types.DefaultSpecs()}
}

// NewWithSpecs creates a Resolver with custom output specs
func NewWithSpecs(specs map[types.Kind]types.OutputSpec) *Resolver {
	return &Resolver{specs: specs}
}

// Spec returns the output spec for kind.
func (r *Resolver) Spec(kind types.Kind) (types.OutputSpec, error) {
	spec, ok := r.specs[kind]
	if !ok {
		return types.OutputSpec{}, fmt.Errorf("%w: %q", types.ErrUnknownKind, kind)
	}
	return spec, nil
}

// Resolve returns a crop of a width×height source that has the kind's aspect
// ratio and lies inside the source. A manual crop takes precedence; otherwise
// the largest rectangle is centred on focus, or on the image centre when
// focus is nil.
func (r *Resolver) Resolve(width, height int, kind types.Kind, manual *types.ManualCrop, focus *types.Focus) (types.CropRectangle, error) {
	spec, err := r.Spec(kind)
	if err != nil {
		return types.CropRectangle{}, err
	}
	if width <= 0 || height <= 0 {
		return types.CropRectangle{}, fmt.Errorf("%w: source is %dx%d", types.ErrInvalidCrop, width, height)
	}

	ratio := AspectRatioOf(spec)

	var crop types.CropRectangle
	switch {
	case manual != nil:
		crop, err = FromManual(width, height, ratio, *manual)
		if err != nil {
			return types.CropRectangle{}, err
		}
	case focus != nil:
		crop = FocusCrop(width, height, ratio, *focus)
	default:
		crop = CenterCrop(width, height, ratio)
	}

	if crop.Width < float64(spec.MinDimension) && crop.Height < float64(spec.MinDimension) {
		log.Debug().
			Str("kind", kind.String()).
			Str("crop", crop.String()).
			Int("min_dimension", spec.MinDimension).
			Msg("Crop is smaller than the minimum output dimension")
	}

	return crop, nil
}

// CenterCrop returns the largest centred rectangle of the given ratio.
func CenterCrop(width, height int, ratio AspectRatio) types.CropRectangle {
	cw, ch := maxExtent(width, height, ratio.Ratio())
	return types.CropRectangle{
		X:      (float64(width) - cw) / 2,
		Y:      (float64(height) - ch) / 2,
		Width:  cw,
		Height: ch,
	}
}

// FocusCrop returns the largest rectangle of the given ratio whose centre is
// as close to the normalized focus point as the image bounds allow.
func FocusCrop(width, height int, ratio AspectRatio, focus types.Focus) types.CropRectangle {
	cw, ch := maxExtent(width, height, ratio.Ratio())
	fw, fh := float64(width), float64(height)

	cx := clamp(focus.Cx, 0, 1) * fw
	cy := clamp(focus.Cy, 0, 1) * fh

	return types.CropRectangle{
		X:      clamp(cx-cw/2, 0, fw-cw),
		Y:      clamp(cy-ch/2, 0, fh-ch),
		Width:  cw,
		Height: ch,
	}
}

// FromManual maps a UI crop to source pixels by dividing by zoom, clamps it to
// the source and shrinks its longer side to the target ratio, re-centring the
// offset on that axis.
func FromManual(width, height int, ratio AspectRatio, manual types.ManualCrop) (types.CropRectangle, error) {
	zoom := manual.Zoom
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		zoom = 1
	}

	a := manual.Area
	for _, v := range []float64{a.X, a.Y, a.Width, a.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.CropRectangle{}, fmt.Errorf("%w: non-finite area %s", types.ErrInvalidCrop, a)
		}
	}
	x0 := math.Max(a.X/zoom, 0)
	y0 := math.Max(a.Y/zoom, 0)
	x1 := math.Min((a.X+a.Width)/zoom, float64(width))
	y1 := math.Min((a.Y+a.Height)/zoom, float64(height))
	if !(x1 > x0 && y1 > y0) {
		return types.CropRectangle{}, fmt.Errorf("%w: %s at zoom %.2f is outside %dx%d",
			types.ErrInvalidCrop, a, zoom, width, height)
	}

	crop := types.CropRectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	target := ratio.Ratio()
	current := crop.Ratio()

	switch {
	case math.Abs(current-target) <= ratioEpsilon:
	case current > target:
		w := crop.Height * target
		crop.X += (crop.Width - w) / 2
		crop.Width = w
	default:
		h := crop.Width / target
		crop.Y += (crop.Height - h) / 2
		crop.Height = h
	}

	return crop, nil
}

// OutputSize returns the initial output dimensions for a crop. Fixed size
// specs always render MaxDimension wide; others cap the crop width at
// MaxDimension and derive the height from the crop's ratio.
func OutputSize(crop types.CropRectangle, spec types.OutputSpec) (int, int) {
	if spec.FixedSize {
		w := spec.MaxDimension
		h := int(math.Round(float64(w) / spec.Ratio()))
		return w, atLeastOne(h)
	}

	w := atLeastOne(int(math.Round(crop.Width)))
	if w > spec.MaxDimension {
		w = spec.MaxDimension
	}
	h := int(math.Round(float64(w) * crop.Height / crop.Width))
	return w, atLeastOne(h)
}

// maxExtent returns the largest width and height of the given ratio that fit
// inside a width×height image.
func maxExtent(width, height int, ratio float64) (float64, float64) {
	fw, fh := float64(width), float64(height)
	if fw/fh > ratio {
		return fh * ratio, fh
	}
	return fw, fw / ratio
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
