package cropper

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/menta2k/brandimage/pkg/types"
)

const eps = 1e-6

func assertCrop(t *testing.T, crop types.CropRectangle, w, h int, ratio float64) {
	t.Helper()

	if math.Abs(crop.Ratio()-ratio) > eps {
		t.Errorf("Expected ratio %f, got %f (%s)", ratio, crop.Ratio(), crop)
	}
	if !crop.Within(w, h) {
		t.Errorf("Crop %s is not inside %dx%d", crop, w, h)
	}
}

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New() returned nil")
	}

	for _, kind := range types.Kinds() {
		if _, err := r.Spec(kind); err != nil {
			t.Errorf("Spec(%s) failed: %v", kind, err)
		}
	}

	if _, err := r.Spec("banner"); !errors.Is(err, types.ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestCenterCropLogo(t *testing.T) {
	crop := CenterCrop(3000, 3000, Square)

	want := types.CropRectangle{X: 0, Y: 0, Width: 3000, Height: 3000}
	if diff := cmp.Diff(want, crop); diff != "" {
		t.Errorf("CenterCrop mismatch (-want +got):\n%s", diff)
	}

	crop = CenterCrop(400, 300, Square)
	want = types.CropRectangle{X: 50, Y: 0, Width: 300, Height: 300}
	if diff := cmp.Diff(want, crop); diff != "" {
		t.Errorf("CenterCrop mismatch (-want +got):\n%s", diff)
	}
}

func TestCenterCropCover(t *testing.T) {
	// Wide source is height constrained.
	crop := CenterCrop(4000, 2000, Widescreen)
	want := types.CropRectangle{X: (4000 - 2000*16.0/9.0) / 2, Y: 0, Width: 2000 * 16.0 / 9.0, Height: 2000}
	if diff := cmp.Diff(want, crop, cmpopts.EquateApprox(0, eps)); diff != "" {
		t.Errorf("CenterCrop mismatch (-want +got):\n%s", diff)
	}

	// Tall source is width constrained.
	crop = CenterCrop(900, 1600, Widescreen)
	want = types.CropRectangle{X: 0, Y: (1600 - 900*9.0/16.0) / 2, Width: 900, Height: 900 * 9.0 / 16.0}
	if diff := cmp.Diff(want, crop, cmpopts.EquateApprox(0, eps)); diff != "" {
		t.Errorf("CenterCrop mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveProperties(t *testing.T) {
	r := New()
	sizes := [][2]int{{1, 1}, {3000, 3000}, {4000, 2000}, {2000, 4000}, {1920, 1080}, {17, 1000}, {1000, 17}, {513, 288}}

	for _, kind := range types.Kinds() {
		spec, _ := r.Spec(kind)
		for _, sz := range sizes {
			crop, err := r.Resolve(sz[0], sz[1], kind, nil, nil)
			if err != nil {
				t.Fatalf("Resolve(%v, %s) failed: %v", sz, kind, err)
			}
			assertCrop(t, crop, sz[0], sz[1], spec.Ratio())

			focused, err := r.Resolve(sz[0], sz[1], kind, nil, &types.Focus{Cx: 0.95, Cy: 0.05})
			if err != nil {
				t.Fatalf("Resolve with focus failed: %v", err)
			}
			assertCrop(t, focused, sz[0], sz[1], spec.Ratio())
		}
	}
}

func TestResolveManualCover(t *testing.T) {
	r := New()
	manual := &types.ManualCrop{
		Area: types.CropRectangle{X: 500, Y: 0, Width: 3000, Height: 1688},
		Zoom: 1,
	}

	crop, err := r.Resolve(4000, 2000, types.KindCover, manual, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	assertCrop(t, crop, 4000, 2000, 16.0/9.0)

	if crop.Width != 3000 {
		t.Errorf("Expected width to stay 3000, got %f", crop.Width)
	}
	if crop.Height > 1688 {
		t.Errorf("Crop grew beyond the supplied rectangle: %s", crop)
	}

	w, h := OutputSize(crop, types.CoverSpec())
	if w != 1600 || h != 900 {
		t.Errorf("Expected 1600x900 output, got %dx%d", w, h)
	}
}

func TestFromManualZoom(t *testing.T) {
	manual := types.ManualCrop{
		Area: types.CropRectangle{X: 200, Y: 100, Width: 800, Height: 600},
		Zoom: 2,
	}

	crop, err := FromManual(1000, 1000, Square, manual)
	if err != nil {
		t.Fatalf("FromManual failed: %v", err)
	}

	// 400x300 at 100,50 in source space, then shrunk to 300x300 and re-centred.
	want := types.CropRectangle{X: 150, Y: 50, Width: 300, Height: 300}
	if diff := cmp.Diff(want, crop, cmpopts.EquateApprox(0, eps)); diff != "" {
		t.Errorf("FromManual mismatch (-want +got):\n%s", diff)
	}
}

func TestFromManualNeverGrows(t *testing.T) {
	manuals := []types.ManualCrop{
		{Area: types.CropRectangle{X: 0, Y: 0, Width: 100, Height: 900}, Zoom: 1},
		{Area: types.CropRectangle{X: 10, Y: 10, Width: 900, Height: 100}, Zoom: 1},
		{Area: types.CropRectangle{X: 10, Y: 10, Width: 500, Height: 500}, Zoom: 1.5},
	}

	for _, ratio := range []AspectRatio{Square, Widescreen} {
		for _, m := range manuals {
			crop, err := FromManual(1000, 1000, ratio, m)
			if err != nil {
				t.Fatalf("FromManual(%v) failed: %v", m, err)
			}
			assertCrop(t, crop, 1000, 1000, ratio.Ratio())

			zoom := m.Zoom
			if crop.Width > m.Area.Width/zoom+eps || crop.Height > m.Area.Height/zoom+eps {
				t.Errorf("Crop %s grew beyond %s / %.1f", crop, m.Area, zoom)
			}
		}
	}
}

func TestFromManualClampsAndRejects(t *testing.T) {
	// Partly outside: clamped to bounds.
	crop, err := FromManual(500, 500, Square, types.ManualCrop{
		Area: types.CropRectangle{X: -100, Y: 300, Width: 400, Height: 400},
	})
	if err != nil {
		t.Fatalf("FromManual failed: %v", err)
	}
	assertCrop(t, crop, 500, 500, 1)

	// Entirely outside: rejected.
	_, err = FromManual(500, 500, Square, types.ManualCrop{
		Area: types.CropRectangle{X: 600, Y: 600, Width: 100, Height: 100},
		Zoom: 1,
	})
	if !errors.Is(err, types.ErrInvalidCrop) {
		t.Errorf("Expected ErrInvalidCrop, got %v", err)
	}
}

func TestFromManualRejectsNonFinite(t *testing.T) {
	r := New()
	nan, inf := math.NaN(), math.Inf(1)

	areas := map[string]types.CropRectangle{
		"nan width":    {Width: nan, Height: 1000},
		"nan x":        {X: nan, Width: 1000, Height: 1000},
		"inf height":   {Width: 1000, Height: inf},
		"negative inf": {X: -inf, Y: 0, Width: inf, Height: 1000},
	}

	for name, area := range areas {
		t.Run(name, func(t *testing.T) {
			_, err := FromManual(4000, 2000, Widescreen, types.ManualCrop{Area: area, Zoom: 1})
			if !errors.Is(err, types.ErrInvalidCrop) {
				t.Errorf("Expected ErrInvalidCrop, got %v", err)
			}

			crop, err := r.Resolve(4000, 2000, types.KindCover, &types.ManualCrop{Area: area, Zoom: 1}, nil)
			if !errors.Is(err, types.ErrInvalidCrop) {
				t.Errorf("Resolve: expected ErrInvalidCrop, got %v (crop %s)", err, crop)
			}
		})
	}
}

func TestFocusCrop(t *testing.T) {
	crop := FocusCrop(4000, 1000, Square, types.Focus{Cx: 0.9, Cy: 0.5})
	want := types.CropRectangle{X: 3000, Y: 0, Width: 1000, Height: 1000}
	if diff := cmp.Diff(want, crop, cmpopts.EquateApprox(0, eps)); diff != "" {
		t.Errorf("FocusCrop mismatch (-want +got):\n%s", diff)
	}

	crop = FocusCrop(4000, 1000, Square, types.Focus{Cx: 0.3, Cy: 0.5})
	if math.Abs(crop.X-700) > eps {
		t.Errorf("Expected X 700, got %f", crop.X)
	}
}

func TestOutputSize(t *testing.T) {
	logo := types.LogoSpec()
	w, h := OutputSize(types.CropRectangle{Width: 3000, Height: 3000}, logo)
	if w != 512 || h != 512 {
		t.Errorf("Expected 512x512 logo, got %dx%d", w, h)
	}

	cover := types.CoverSpec()
	w, h = OutputSize(types.CropRectangle{Width: 1280, Height: 720}, cover)
	if w != 1280 || h != 720 {
		t.Errorf("Expected small cover to keep 1280x720, got %dx%d", w, h)
	}
}

func BenchmarkResolve(b *testing.B) {
	r := New()
	manual := &types.ManualCrop{Area: types.CropRectangle{X: 10, Y: 20, Width: 1500, Height: 900}, Zoom: 1.2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Resolve(1920, 1080, types.KindCover, manual, nil)
	}
}
