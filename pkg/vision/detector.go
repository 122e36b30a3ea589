// Package vision estimates a crop focus from the image itself, without a
// model. It looks for the window with the strongest local contrast.
package vision

import (
	"context"
	"errors"
	"image"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/brandimage/pkg/types"
)

// SubjectDetector finds high-contrast regions of an image.
type SubjectDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	// SampleSize is the longer side of the grayscale sample that is scored.
	SampleSize int
	// WindowRatio is the window side relative to the sample side.
	WindowRatio float64
	// MinContrast is the mean edge strength a window needs to count as a
	// subject. Flat images have no subject and are centred.
	MinContrast float64
	// MaxRegions caps the number of regions returned by DetectSubjects.
	MaxRegions int
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return &SubjectDetector{
		config: DetectionConfig{
			SampleSize:  128,
			WindowRatio: 0.3,
			MinContrast: 0.02,
			MaxRegions:  5,
		},
	}
}

// NewWithConfig creates a new SubjectDetector with custom configuration.
// Zero fields take the defaults.
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	def := New().config
	if config.SampleSize <= 0 {
		config.SampleSize = def.SampleSize
	}
	if config.WindowRatio <= 0 || config.WindowRatio > 1 {
		config.WindowRatio = def.WindowRatio
	}
	if config.MaxRegions <= 0 {
		config.MaxRegions = def.MaxRegions
	}
	return &SubjectDetector{config: config}
}

// Region is a window of interest in normalized [0,1] coordinates.
type Region struct {
	X, Y, W, H float64
	Score      float64
}

// Center returns the center point of the region
func (r Region) Center() types.Focus {
	return types.Focus{Cx: r.X + r.W/2, Cy: r.Y + r.H/2}
}

func (r Region) overlaps(o Region) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Focus returns the centre of the strongest region of src, or nil when the
// image has no region above MinContrast.
func (d *SubjectDetector) Focus(ctx context.Context, src *types.SourceImage) (*types.Focus, error) {
	if src == nil || src.Image == nil {
		return nil, errors.New("vision: no decoded image")
	}
	regions, err := d.DetectSubjects(ctx, src.Image)
	if err != nil || len(regions) == 0 {
		return nil, err
	}
	focus := regions[0].Center()
	return &focus, nil
}

// DetectSubjects returns up to MaxRegions non-overlapping windows ordered by
// descending score.
func (d *SubjectDetector) DetectSubjects(ctx context.Context, img image.Image) ([]Region, error) {
	sample := imaging.Grayscale(imaging.Fit(img, d.config.SampleSize, d.config.SampleSize, imaging.Box))
	w, h := sample.Bounds().Dx(), sample.Bounds().Dy()
	if w < 3 || h < 3 {
		return nil, nil
	}

	sum := integral(edgeMap(sample))

	ww := max(1, int(float64(w)*d.config.WindowRatio))
	wh := max(1, int(float64(h)*d.config.WindowRatio))
	area := float64(ww * wh)

	var candidates []Region
	for y := 0; y+wh <= h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x+ww <= w; x++ {
			score := sum.window(x, y, ww, wh) / area
			if score < d.config.MinContrast {
				continue
			}
			candidates = append(candidates, Region{
				X:     float64(x) / float64(w),
				Y:     float64(y) / float64(h),
				W:     float64(ww) / float64(w),
				H:     float64(wh) / float64(h),
				Score: score,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	var regions []Region
	for _, c := range candidates {
		if len(regions) == d.config.MaxRegions {
			break
		}
		keep := true
		for _, r := range regions {
			if c.overlaps(r) {
				keep = false
				break
			}
		}
		if keep {
			regions = append(regions, c)
		}
	}
	return regions, nil
}

// edgeMap returns the mean absolute difference of each pixel to its eight
// neighbours, scaled to [0,1]. Border pixels are zero.
func edgeMap(img *image.NRGBA) [][]float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	gray := func(x, y int) float64 {
		return float64(img.Pix[y*img.Stride+x*4])
	}

	edges := make([][]float64, h)
	for y := range edges {
		edges[y] = make([]float64, w)
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := gray(x, y)
			var total float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					diff := c - gray(x+dx, y+dy)
					if diff < 0 {
						diff = -diff
					}
					total += diff
				}
			}
			edges[y][x] = total / (8 * 255)
		}
	}
	return edges
}

// summedArea is a summed-area table with a zero first row and column.
type summedArea [][]float64

func integral(m [][]float64) summedArea {
	h := len(m)
	w := len(m[0])
	s := make(summedArea, h+1)
	for y := range s {
		s[y] = make([]float64, w+1)
	}
	for y := 1; y <= h; y++ {
		for x := 1; x <= w; x++ {
			s[y][x] = m[y-1][x-1] + s[y-1][x] + s[y][x-1] - s[y-1][x-1]
		}
	}
	return s
}

func (s summedArea) window(x, y, w, h int) float64 {
	return s[y+h][x+w] - s[y][x+w] - s[y+h][x] + s[y][x]
}
