package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFileType is returned when the input MIME type is not allowed.
	ErrInvalidFileType = errors.New("invalid file type")

	// ErrEmptyInput is returned for a zero-length input file.
	ErrEmptyInput = errors.New("empty input")

	// ErrInputTooLarge is returned when the input exceeds the safety ceiling
	// of its kind. ErrLogoTooLargeInput and ErrCoverTooLargeInput narrow it
	// down to a kind.
	ErrInputTooLarge      = errors.New("input too large")
	ErrLogoTooLargeInput  = errors.New("logo input too large")
	ErrCoverTooLargeInput = errors.New("cover input too large")

	// ErrDecode is returned when the source bytes cannot be decoded.
	ErrDecode = errors.New("decode failed")

	// ErrRasterContextUnavailable is returned when no drawing surface can be
	// created for the requested crop and size.
	ErrRasterContextUnavailable = errors.New("raster context unavailable")

	// ErrImageTooLargeAfterOptimization is returned when the quality and
	// dimension ladder is exhausted without meeting the byte budget.
	ErrImageTooLargeAfterOptimization = errors.New("image too large after optimization")

	// ErrImageTooSmall is returned for undersized sources when rejection is enabled.
	ErrImageTooSmall = errors.New("image too small")

	// ErrInvalidCrop is returned for a crop that does not overlap the source.
	ErrInvalidCrop = errors.New("invalid crop")

	// ErrUnknownKind is returned for an unsupported image kind.
	ErrUnknownKind = errors.New("unknown image kind")

	// ErrUploadFailed is returned when persisting a blob to storage fails.
	ErrUploadFailed = errors.New("upload failed")

	// ErrInvalidEntityKey is returned for an entity key that cannot be used in
	// a storage path.
	ErrInvalidEntityKey = errors.New("invalid entity key")
)

// InputTooLargeError reports an input over its kind's safety ceiling.
type InputTooLargeError struct {
	Kind  Kind
	Size  int64
	Limit int64
}

func (e *InputTooLargeError) Error() string {
	return fmt.Sprintf("%s input too large: %d bytes (max %d)", e.Kind, e.Size, e.Limit)
}

// Is matches ErrInputTooLarge and the kind specific sentinel.
func (e *InputTooLargeError) Is(target error) bool {
	switch target {
	case ErrInputTooLarge:
		return true
	case ErrLogoTooLargeInput:
		return e.Kind == KindLogo
	case ErrCoverTooLargeInput:
		return e.Kind == KindCover
	}
	return false
}

// OptimizationError carries the attempts made before the search gave up.
type OptimizationError struct {
	Kind     Kind
	MaxBytes int64
	Attempts []Attempt
}

func (e *OptimizationError) Error() string {
	smallest := 0
	if n := len(e.Attempts); n > 0 {
		smallest = e.Attempts[n-1].Bytes
	}
	return fmt.Sprintf("%s: %v after %d attempts (last %d bytes, max %d)",
		e.Kind, ErrImageTooLargeAfterOptimization, len(e.Attempts), smallest, e.MaxBytes)
}

func (e *OptimizationError) Unwrap() error {
	return ErrImageTooLargeAfterOptimization
}

// UploadError wraps a failure of the storage step. Callers may retry the
// upload without re-encoding.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrUploadFailed, e.Path, e.Err)
}

func (e *UploadError) Unwrap() []error {
	return []error{ErrUploadFailed, e.Err}
}

// IsEncodingError reports whether err comes from validation or encoding
// rather than from the storage step.
func IsEncodingError(err error) bool {
	if err == nil || errors.Is(err, ErrUploadFailed) {
		return false
	}
	for _, target := range []error{
		ErrInvalidFileType, ErrEmptyInput, ErrInputTooLarge, ErrDecode,
		ErrRasterContextUnavailable, ErrImageTooLargeAfterOptimization,
		ErrImageTooSmall, ErrInvalidCrop, ErrUnknownKind,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
