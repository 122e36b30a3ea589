package types

import (
	"fmt"
	"image"
	"math"
	"strings"
	"time"
)

// Kind is the category of a branding image.
type Kind string

const (
	KindLogo  Kind = "logo"
	KindCover Kind = "cover"
)

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindLogo, KindCover}
}

// ParseKind converts a user supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindLogo, KindCover:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) String() string {
	return string(k)
}

// SourceImage is a decoded raster. It must not be modified once loaded.
type SourceImage struct {
	Width  int
	Height int
	Format string
	Image  image.Image
}

// CropRectangle is a region in source pixel coordinates.
type CropRectangle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Ratio returns width/height, or 0 for a degenerate rectangle.
func (c CropRectangle) Ratio() float64 {
	if c.Height <= 0 {
		return 0
	}
	return c.Width / c.Height
}

// Empty reports whether the rectangle has no area.
func (c CropRectangle) Empty() bool {
	return c.Width <= 0 || c.Height <= 0
}

// Within reports whether the rectangle lies inside a w×h image, allowing for
// floating point noise.
func (c CropRectangle) Within(w, h int) bool {
	const eps = 1e-6
	return c.X >= -eps && c.Y >= -eps &&
		c.X+c.Width <= float64(w)+eps &&
		c.Y+c.Height <= float64(h)+eps
}

// Rect converts the rectangle to integer pixels, clamped to the given bounds.
// An axis with a positive sub-pixel extent still covers the pixel it starts in.
func (c CropRectangle) Rect(bounds image.Rectangle) image.Rectangle {
	x0, x1 := pixelSpan(c.X, c.Width)
	y0, y1 := pixelSpan(c.Y, c.Height)
	r := image.Rect(x0, y0, x1, y1).Add(bounds.Min)
	return r.Intersect(bounds)
}

func pixelSpan(start, length float64) (int, int) {
	lo := int(math.Round(start))
	hi := int(math.Round(start + length))
	if hi <= lo && length > 0 {
		lo = int(math.Floor(start))
		hi = lo + 1
	}
	return lo, hi
}

func (c CropRectangle) String() string {
	return fmt.Sprintf("%.1fx%.1f@%.1f,%.1f", c.Width, c.Height, c.X, c.Y)
}

// ManualCrop is a crop chosen interactively. Area is in UI space, which maps
// to source pixels by dividing by Zoom.
type ManualCrop struct {
	Area CropRectangle `json:"area"`
	Zoom float64       `json:"zoom"`
}

// Focus is a normalized point of interest in [0,1] image coordinates.
type Focus struct {
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

// OutputSpec bundles the output constraints of one kind.
type OutputSpec struct {
	Kind         Kind      `json:"kind"`
	AspectWidth  int       `json:"aspect_width"`
	AspectHeight int       `json:"aspect_height"`
	MaxDimension int       `json:"max_dimension"`
	MinDimension int       `json:"min_dimension"`
	MaxBytes     int64     `json:"max_bytes"`
	InputCeiling int64     `json:"input_ceiling"`
	Qualities    []float64 `json:"qualities"`
	ShrinkFactor float64   `json:"shrink_factor"`
	// FixedSize renders a MaxDimension square regardless of the crop size.
	FixedSize bool `json:"fixed_size"`
}

// Ratio returns the target width/height ratio.
func (s OutputSpec) Ratio() float64 {
	if s.AspectHeight == 0 {
		return 0
	}
	return float64(s.AspectWidth) / float64(s.AspectHeight)
}

// StartQuality is the quality of the first encode pass.
func (s OutputSpec) StartQuality() float64 {
	if len(s.Qualities) == 0 {
		return 0
	}
	return s.Qualities[0]
}

// Validate checks that the spec can drive the adaptive search.
func (s OutputSpec) Validate() error {
	if s.AspectWidth <= 0 || s.AspectHeight <= 0 {
		return fmt.Errorf("%s: aspect ratio must be positive", s.Kind)
	}
	if s.MinDimension <= 0 || s.MaxDimension < s.MinDimension {
		return fmt.Errorf("%s: need 0 < min_dimension <= max_dimension", s.Kind)
	}
	if s.MaxBytes <= 0 {
		return fmt.Errorf("%s: max_bytes must be positive", s.Kind)
	}
	if s.InputCeiling <= s.MaxBytes {
		return fmt.Errorf("%s: input_ceiling must be larger than max_bytes", s.Kind)
	}
	if s.ShrinkFactor <= 0 || s.ShrinkFactor >= 1 {
		return fmt.Errorf("%s: shrink_factor must be in (0,1)", s.Kind)
	}
	if len(s.Qualities) == 0 {
		return fmt.Errorf("%s: qualities cannot be empty", s.Kind)
	}
	for i, q := range s.Qualities {
		if q <= 0 || q > 1 {
			return fmt.Errorf("%s: quality %v outside (0,1]", s.Kind, q)
		}
		if i > 0 && q >= s.Qualities[i-1] {
			return fmt.Errorf("%s: qualities must be strictly descending", s.Kind)
		}
	}
	return nil
}

const (
	kib = 1024
	mib = 1024 * kib
)

// LogoSpec is the default output spec for club logos.
func LogoSpec() OutputSpec {
	return OutputSpec{
		Kind:         KindLogo,
		AspectWidth:  1,
		AspectHeight: 1,
		MaxDimension: 512,
		MinDimension: 256,
		MaxBytes:     300 * kib,
		InputCeiling: 10 * mib,
		Qualities:    []float64{0.9, 0.8, 0.7},
		ShrinkFactor: 0.5,
		FixedSize:    true,
	}
}

// CoverSpec is the default output spec for 16:9 club covers.
func CoverSpec() OutputSpec {
	return OutputSpec{
		Kind:         KindCover,
		AspectWidth:  16,
		AspectHeight: 9,
		MaxDimension: 1600,
		MinDimension: 800,
		MaxBytes:     800 * kib,
		InputCeiling: 15 * mib,
		Qualities:    []float64{0.82, 0.72, 0.62, 0.5},
		ShrinkFactor: 0.9,
	}
}

// DefaultSpecs returns the default spec for every kind.
func DefaultSpecs() map[Kind]OutputSpec {
	return map[Kind]OutputSpec{
		KindLogo:  LogoSpec(),
		KindCover: CoverSpec(),
	}
}

// Attempt records a single encode pass of the adaptive search.
type Attempt struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Quality float64 `json:"quality"`
	Bytes   int     `json:"bytes"`
}

// EncodedBlob is the final compressed image.
type EncodedBlob struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Quality  float64
}

// Size returns the byte length of the blob.
func (b EncodedBlob) Size() int {
	return len(b.Data)
}

// UploadResult is returned by the storage collaborator once a blob is stored.
type UploadResult struct {
	DownloadURL string `json:"downloadUrl"`
	StoragePath string `json:"storagePath"`
}

// Identity is the anonymous principal used for storage writes.
type Identity struct {
	UID       string    `json:"uid"`
	Anonymous bool      `json:"anonymous"`
	CreatedAt time.Time `json:"created_at"`
}

// ProgressFunc receives upload progress in percent (0-100).
type ProgressFunc func(percent float64)
