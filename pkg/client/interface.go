// Package client defines the contract of vision model backends used to
// locate the subject of a source image.
package client

import (
	"context"

	"github.com/menta2k/brandimage/pkg/types"
)

// VisionClient asks a vision model about an encoded image.
type VisionClient interface {
	// SimpleQuery returns the model's free-form answer to prompt.
	SimpleQuery(ctx context.Context, model, prompt string, image []byte) (string, error)

	// LocateSubject returns the subject the model found for prompt. A model
	// answer that cannot be parsed yields a "none" subject, not an error.
	LocateSubject(ctx context.Context, model, prompt string, image []byte) (*types.SubjectResult, error)
}
