package analyzer

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/menta2k/brandimage/pkg/types"
)

// DefaultAllowedTypes is the MIME allow-list for source images.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/webp"}

// Validator rejects unsupported or oversized inputs before any decoding
type Validator struct {
	config Config
}

// Config holds configuration for the validator
type Config struct {
	AllowedTypes     []string
	Specs            map[types.Kind]types.OutputSpec
	RejectUndersized bool
}

// New creates a new Validator with default configuration
func New() *Validator {
	return &Validator{
		config: Config{
			AllowedTypes: DefaultAllowedTypes,
			Specs:        types.DefaultSpecs(),
		},
	}
}

// NewWithConfig creates a new Validator with custom configuration
func NewWithConfig(config Config) *Validator {
	if len(config.AllowedTypes) == 0 {
		config.AllowedTypes = DefaultAllowedTypes
	}
	if config.Specs == nil {
		config.Specs = types.DefaultSpecs()
	}
	return &Validator{config: config}
}

// ResolveMIME returns the declared MIME type without parameters, or the type
// sniffed from data when none was declared.
func ResolveMIME(declared string, data []byte) string {
	mime := declared
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = mime[:i]
		}
	}
	return mime
}

// ValidateInput checks the MIME type and the safety ceiling of kind. It is a
// cheap guard and does not promise that encoding will fit the output budget.
func (v *Validator) ValidateInput(kind types.Kind, mime string, size int64) error {
	spec, ok := v.config.Specs[kind]
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrUnknownKind, kind)
	}
	if !v.isTypeAllowed(mime) {
		return fmt.Errorf("%w: %s", types.ErrInvalidFileType, mime)
	}
	if size <= 0 {
		return types.ErrEmptyInput
	}
	if size > spec.InputCeiling {
		return &types.InputTooLargeError{Kind: kind, Size: size, Limit: spec.InputCeiling}
	}
	return nil
}

// Validate resolves the MIME type of data and validates it for kind.
func (v *Validator) Validate(kind types.Kind, declaredMIME string, data []byte) (string, error) {
	mime := ResolveMIME(declaredMIME, data)
	return mime, v.ValidateInput(kind, mime, int64(len(data)))
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// GetImageInfo returns basic information about a decoded image
func GetImageInfo(src *types.SourceImage) ImageInfo {
	info := ImageInfo{Width: src.Width, Height: src.Height, Area: src.Width * src.Height}
	if src.Height > 0 {
		info.AspectRatio = float64(src.Width) / float64(src.Height)
	}
	return info
}

// Undersized reports whether the source cannot fill the minimum output
// dimension of kind without upscaling.
func (v *Validator) Undersized(src *types.SourceImage, kind types.Kind) bool {
	spec, ok := v.config.Specs[kind]
	if !ok {
		return false
	}
	return src.Width < spec.MinDimension || src.Height < spec.MinDimension*spec.AspectHeight/spec.AspectWidth
}

// ValidateDimensions fails undersized sources when rejection is enabled.
func (v *Validator) ValidateDimensions(src *types.SourceImage, kind types.Kind) error {
	if !v.config.RejectUndersized || !v.Undersized(src, kind) {
		return nil
	}
	spec := v.config.Specs[kind]
	return fmt.Errorf("%w: %dx%d (minimum width: %d)", types.ErrImageTooSmall, src.Width, src.Height, spec.MinDimension)
}

func (v *Validator) isTypeAllowed(mime string) bool {
	for _, allowed := range v.config.AllowedTypes {
		if strings.EqualFold(mime, allowed) {
			return true
		}
	}
	return false
}
