// Package detection turns vision model answers into a crop focus point.
package detection

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/brandimage/pkg/client"
	"github.com/menta2k/brandimage/pkg/processing"
	"github.com/menta2k/brandimage/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks the model for the primary subject of a logo or cover.
const DefaultPrompt = `You are an image subject locator for club logos and cover photos.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (max 20 words)",
  "tags": ["tag1", "tag2", "tag3"]
}

RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- The box should tightly include the visually dominant subject (a crest, emblem, wordmark, person or group).
- cx and cy are the center of that subject.
- If no subject is found, return label "none" with confidence 0.0.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// thumbnailSize is the longer side of the image sent to the model.
const thumbnailSize = 768

// Config holds configuration for the detector
type Config struct {
	Model         string
	Prompt        string
	MinConfidence float64
}

// Detector locates the subject of a source image with a vision model.
type Detector struct {
	client client.VisionClient
	config Config
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, config Config) *Detector {
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	return &Detector{client: client, config: config}
}

// DetectSubject sends a thumbnail of src to the model and returns the
// normalized answer.
func (d *Detector) DetectSubject(ctx context.Context, src *types.SourceImage) (*types.SubjectResult, error) {
	thumb, err := thumbnail(src)
	if err != nil {
		return nil, err
	}

	result, err := d.client.LocateSubject(ctx, d.config.Model, d.config.Prompt, thumb)
	if err != nil {
		return nil, err
	}

	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Tags = normalizeTags(result.Tags)
	return markFallback(result), nil
}

// Focus returns the focus point of src, or nil when the model found no
// subject or is not confident enough. A nil focus means centre cropping.
func (d *Detector) Focus(ctx context.Context, src *types.SourceImage) (*types.Focus, error) {
	result, err := d.DetectSubject(ctx, src)
	if err != nil {
		return nil, err
	}

	p := result.Primary
	if strings.EqualFold(p.Label, "none") || p.Confidence < d.config.MinConfidence {
		log.Debug().
			Str("label", p.Label).
			Float64("confidence", p.Confidence).
			Msg("No usable subject, centre cropping")
		return nil, nil
	}

	focus := types.Focus{Cx: p.Cx, Cy: p.Cy}
	if !inUnit(p.Cx) || !inUnit(p.Cy) || (p.Cx == 0 && p.Cy == 0) {
		focus = p.Box.Center()
	}

	log.Debug().
		Str("label", p.Label).
		Float64("confidence", p.Confidence).
		Float64("cx", focus.Cx).
		Float64("cy", focus.Cy).
		Msg("Subject located")

	return &focus, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, src *types.SourceImage) (string, error) {
	thumb, err := thumbnail(src)
	if err != nil {
		return "", err
	}
	return d.client.SimpleQuery(ctx, d.config.Model, SimpleTestPrompt, thumb)
}

func thumbnail(src *types.SourceImage) ([]byte, error) {
	if src == nil || src.Image == nil {
		return nil, fmt.Errorf("detection: no decoded image")
	}
	img := src.Image
	if max(src.Width, src.Height) > thumbnailSize {
		img = imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Linear)
	}
	return processing.EncodeImage(img, processing.MIMEJPEG, 0.85)
}

// fallbackIndicators mark answers the model produced without a real subject.
var fallbackIndicators = []string{"unclear", "empty", "parse", "error", "fallback", "non-json", "generic"}

func markFallback(result *types.SubjectResult) *types.SubjectResult {
	label := strings.ToLower(result.Primary.Label)
	desc := strings.ToLower(result.Description)
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) || strings.Contains(desc, indicator) {
			result.Primary.Label = "none"
			result.Primary.Confidence = 0
			break
		}
	}
	return result
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
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

// normalizeBox clamps a normalized box to the unit square.
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
