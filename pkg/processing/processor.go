package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/brandimage/pkg/types"
)

// MIME types a Surface can be encoded to.
const (
	MIMEWebP = "image/webp"
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// Engine decodes source images and rasterizes crops of them.
type Engine interface {
	// Decode decodes source bytes into a SourceImage.
	Decode(data []byte) (*types.SourceImage, error)

	// Rasterize draws crop of src into a new surface of exactly width×height.
	Rasterize(src *types.SourceImage, crop types.CropRectangle, width, height int) (Surface, error)
}

// Surface is a rasterized image that can be encoded at a given quality.
type Surface interface {
	Width() int
	Height() int
	Encode(mime string, quality float64) ([]byte, error)
}

// Config holds raster engine settings.
type Config struct {
	// Filter names the resampling filter: lanczos, catmullrom, linear, box or nearest.
	Filter string
	// AutoOrient applies the EXIF orientation tag while decoding.
	AutoOrient bool
}

// Processor is the imaging/webp backed Engine
type Processor struct {
	filter     imaging.ResampleFilter
	autoOrient bool
}

// NewProcessor creates a processor with Lanczos resampling and EXIF auto-orientation
func NewProcessor() *Processor {
	return &Processor{filter: imaging.Lanczos, autoOrient: true}
}

// NewProcessorWithConfig creates a processor with custom settings
func NewProcessorWithConfig(cfg Config) (*Processor, error) {
	filter, err := ParseFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	return &Processor{filter: filter, autoOrient: cfg.AutoOrient}, nil
}

// ParseFilter maps a filter name to an imaging.ResampleFilter. The empty
// string selects Lanczos.
func ParseFilter(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(name) {
	case "", "lanczos":
		return imaging.Lanczos, nil
	case "catmullrom":
		return imaging.CatmullRom, nil
	case "linear":
		return imaging.Linear, nil
	case "box":
		return imaging.Box, nil
	case "nearest":
		return imaging.NearestNeighbor, nil
	}
	return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter: %s", name)
}

// Decode decodes JPEG, PNG and WebP bytes.
func (p *Processor) Decode(data []byte) (*types.SourceImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %v", types.ErrDecode, types.ErrEmptyInput)
	}

	img, format, err := p.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDecode, err)
	}

	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", types.ErrDecode)
	}

	log.Debug().
		Str("format", format).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Msg("Decoded source image")

	return &types.SourceImage{
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
		Image:  img,
	}, nil
}

// decode tries the registered decoders first and falls back to libwebp.
func (p *Processor) decode(data []byte) (image.Image, string, error) {
	_, format, cfgErr := image.DecodeConfig(bytes.NewReader(data))
	if cfgErr == nil {
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(p.autoOrient))
		if err == nil {
			return img, format, nil
		}
	}

	img, err := webp.Decode(bytes.NewReader(data))
	if err == nil {
		return img, "webp", nil
	}

	if cfgErr != nil {
		return nil, "", fmt.Errorf("unknown or unsupported format: %v", cfgErr)
	}
	return nil, "", err
}

// Rasterize crops src and resamples the result to exactly width×height.
func (p *Processor) Rasterize(src *types.SourceImage, crop types.CropRectangle, width, height int) (Surface, error) {
	if src == nil || src.Image == nil {
		return nil, fmt.Errorf("%w: no source image", types.ErrRasterContextUnavailable)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid target size %dx%d", types.ErrRasterContextUnavailable, width, height)
	}

	rect := crop.Rect(src.Image.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("%w: crop %s is empty", types.ErrRasterContextUnavailable, crop)
	}

	cropped := imaging.Crop(src.Image, rect)

	var out *image.NRGBA
	if cropped.Bounds().Dx() == width && cropped.Bounds().Dy() == height {
		out = cropped
	} else {
		out = imaging.Resize(cropped, width, height, p.filter)
	}

	return &surface{img: out}, nil
}

// DrawAndEncode rasterizes crop of src at width×height and encodes it in one call.
func (p *Processor) DrawAndEncode(src *types.SourceImage, crop types.CropRectangle, width, height int, mime string, quality float64) ([]byte, error) {
	s, err := p.Rasterize(src, crop, width, height)
	if err != nil {
		return nil, err
	}
	return s.Encode(mime, quality)
}

type surface struct {
	img *image.NRGBA
}

func (s *surface) Width() int  { return s.img.Bounds().Dx() }
func (s *surface) Height() int { return s.img.Bounds().Dy() }

// Encode encodes the surface. Quality is in [0,1].
func (s *surface) Encode(mime string, quality float64) ([]byte, error) {
	return EncodeImage(s.img, mime, quality)
}

// EncodeImage encodes img as mime at quality in [0,1].
func EncodeImage(img image.Image, mime string, quality float64) ([]byte, error) {
	if quality < 0 || quality > 1 {
		return nil, fmt.Errorf("quality %v outside [0,1]", quality)
	}

	var buf bytes.Buffer
	switch mime {
	case MIMEWebP:
		opts := &webp.Options{Lossless: false, Quality: float32(quality * 100)}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	case MIMEJPEG:
		q := int(quality*100 + 0.5)
		if q < 1 {
			q = 1
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case MIMEPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output type: %s", mime)
	}

	if buf.Len() == 0 {
		return nil, fmt.Errorf("%s encoder produced no data", mime)
	}
	return buf.Bytes(), nil
}
