package types

import (
	"image"
	"testing"
)

func TestCropRectangleRect(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 3000)

	tests := []struct {
		name string
		crop CropRectangle
		want image.Rectangle
	}{
		{"whole pixels", CropRectangle{X: 10, Y: 20, Width: 30, Height: 40}, image.Rect(10, 20, 40, 60)},
		{"rounded", CropRectangle{X: 10.4, Y: 20.6, Width: 30, Height: 40}, image.Rect(10, 21, 40, 61)},
		{"sub-pixel height", CropRectangle{X: 0, Y: 1499.71875, Width: 1, Height: 0.5625}, image.Rect(0, 1499, 1, 1500)},
		{"sub-pixel width at edge", CropRectangle{X: 99.8, Y: 0, Width: 0.1, Height: 10}, image.Rect(99, 0, 100, 10)},
		{"clamped", CropRectangle{X: -5, Y: 2990, Width: 20, Height: 20}, image.Rect(0, 2990, 15, 3000)},
		{"zero width", CropRectangle{X: 10, Y: 10, Width: 0, Height: 10}, image.Rectangle{}},
		{"outside", CropRectangle{X: 200, Y: 10, Width: 10, Height: 10}, image.Rectangle{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.crop.Rect(bounds)
			if !got.Eq(tt.want) {
				t.Errorf("Rect(%s) = %v, want %v", tt.crop, got, tt.want)
			}
		})
	}
}

func TestCropRectangleRectOffsetBounds(t *testing.T) {
	bounds := image.Rect(10, 20, 110, 120)
	got := CropRectangle{X: 5, Y: 5, Width: 0.4, Height: 50}.Rect(bounds)
	if want := image.Rect(15, 25, 16, 75); !got.Eq(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
