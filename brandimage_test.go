package brandimage

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chai2010/webp"
	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/menta2k/brandimage/internal/imggen"
	"github.com/menta2k/brandimage/pkg/processing"
	"github.com/menta2k/brandimage/pkg/storage"
	"github.com/menta2k/brandimage/pkg/storage/mock_storage"
	"github.com/menta2k/brandimage/pkg/types"
)

// stubEngine decodes every input to a fixed size and encodes to small blobs.
type stubEngine struct {
	width, height int
	mu            sync.Mutex
	decodes       int
	crops         []types.CropRectangle
}

func (e *stubEngine) Decode(data []byte) (*types.SourceImage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decodes++
	return &types.SourceImage{Width: e.width, Height: e.height, Format: "png"}, nil
}

func (e *stubEngine) Rasterize(src *types.SourceImage, crop types.CropRectangle, w, h int) (processing.Surface, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.crops = append(e.crops, crop)
	return stubSurface{w, h}, nil
}

type stubSurface struct{ w, h int }

func (s stubSurface) Width() int  { return s.w }
func (s stubSurface) Height() int { return s.h }
func (s stubSurface) Encode(string, float64) ([]byte, error) {
	return make([]byte, 1024), nil
}

type staticFocus struct {
	focus *types.Focus
	err   error
}

func (f staticFocus) Focus(context.Context, *types.SourceImage) (*types.Focus, error) {
	return f.focus, f.err
}

func memoryUploader() (*storage.Client, *storage.MemoryBackend) {
	backend := storage.NewMemoryBackend("https://cdn.example.com/")
	return storage.NewClient(backend, storage.NewAnonymousAuth(nil)), backend
}

func TestNew(t *testing.T) {
	p := New(Options{})
	if p == nil {
		t.Fatal("New() returned nil")
	}
	if p.validator == nil || p.engine == nil || p.resolver == nil || p.encoder == nil {
		t.Error("pipeline component is nil")
	}

	spec, err := p.Spec(types.KindCover)
	if err != nil || spec.MaxDimension != 1600 {
		t.Errorf("unexpected cover spec %+v, %v", spec, err)
	}
}

func TestProcessLogo(t *testing.T) {
	p := New(Options{})
	data := imggen.PNG(imggen.Gradient(1200, 800))

	res, err := p.Process(context.Background(), Input{Data: data, Kind: types.KindLogo})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if int64(res.Blob.Size()) > types.LogoSpec().MaxBytes {
		t.Errorf("blob of %d bytes exceeds budget", res.Blob.Size())
	}
	cfg, err := webp.DecodeConfig(bytes.NewReader(res.Blob.Data))
	if err != nil {
		t.Fatalf("output is not a webp: %v", err)
	}
	if cfg.Width != 512 || cfg.Height != 512 {
		t.Errorf("expected 512x512, got %dx%d", cfg.Width, cfg.Height)
	}

	want := types.CropRectangle{X: 200, Y: 0, Width: 800, Height: 800}
	if diff := cmp.Diff(want, res.Crop, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("crop mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessCoverManualCrop(t *testing.T) {
	engine := &stubEngine{width: 4000, height: 2000}
	p := New(Options{Engine: engine})

	res, err := p.Process(context.Background(), Input{
		Data:     []byte("png bytes"),
		MIMEType: "image/png",
		Kind:     types.KindCover,
		Crop: &types.ManualCrop{
			Area: types.CropRectangle{X: 500, Y: 0, Width: 3000, Height: 1688},
			Zoom: 1,
		},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.Blob.Width != 1600 || res.Blob.Height < 899 || res.Blob.Height > 900 {
		t.Errorf("expected about 1600x900, got %dx%d", res.Blob.Width, res.Blob.Height)
	}
	// 1688 rows are half a row too tall for 16:9; the excess is split evenly.
	want := types.CropRectangle{X: 500, Y: 0.25, Width: 3000, Height: 1687.5}
	if diff := cmp.Diff(want, res.Crop, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("crop mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessRejectsBeforeDecode(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want error
	}{
		{
			name: "gif",
			in:   Input{Data: []byte("GIF89a"), MIMEType: "image/gif", Kind: types.KindLogo},
			want: types.ErrInvalidFileType,
		},
		{
			name: "cover over ceiling",
			in:   Input{Data: make([]byte, 20*1024*1024), MIMEType: "image/jpeg", Kind: types.KindCover},
			want: types.ErrCoverTooLargeInput,
		},
		{
			name: "unknown kind",
			in:   Input{Data: []byte("x"), MIMEType: "image/jpeg", Kind: "banner"},
			want: types.ErrUnknownKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{width: 100, height: 100}
			_, err := New(Options{Engine: engine}).Process(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if engine.decodes != 0 {
				t.Errorf("expected no decode, got %d", engine.decodes)
			}
		})
	}
}

func TestProcessDecodeError(t *testing.T) {
	_, err := New(Options{}).Process(context.Background(), Input{
		Data:     []byte("definitely not a jpeg"),
		MIMEType: "image/jpeg",
		Kind:     types.KindLogo,
	})
	if !errors.Is(err, types.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestProcessUsesFocus(t *testing.T) {
	engine := &stubEngine{width: 3000, height: 1000}

	p := New(Options{Engine: engine, Focus: staticFocus{focus: &types.Focus{Cx: 0, Cy: 0.5}}})
	res, err := p.Process(context.Background(), Input{Data: []byte("x"), MIMEType: "image/png", Kind: types.KindLogo})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Crop.X != 0 || res.Crop.Width != 1000 {
		t.Errorf("expected a left aligned crop, got %+v", res.Crop)
	}

	p = New(Options{Engine: engine, Focus: staticFocus{err: errors.New("model offline")}})
	res, err = p.Process(context.Background(), Input{Data: []byte("x"), MIMEType: "image/png", Kind: types.KindLogo})
	if err != nil {
		t.Fatalf("focus errors should not fail processing: %v", err)
	}
	if res.Crop.X != 1000 {
		t.Errorf("expected a centred crop, got %+v", res.Crop)
	}
}

func TestProcessAndUpload(t *testing.T) {
	uploader, backend := memoryUploader()
	p := New(Options{Uploader: uploader})
	data := imggen.JPEG(imggen.Gradient(600, 400))

	var mu sync.Mutex
	var progress []float64
	out, err := p.ProcessAndUpload(context.Background(), Input{Data: data, Kind: types.KindCover}, "club-42", func(pct float64) {
		mu.Lock()
		progress = append(progress, pct)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("ProcessAndUpload failed: %v", err)
	}

	if out.Upload.StoragePath != "club-images/club-42/cover.webp" {
		t.Errorf("unexpected storage path %q", out.Upload.StoragePath)
	}
	if out.Upload.DownloadURL != "https://cdn.example.com/club-images/club-42/cover.webp" {
		t.Errorf("unexpected download URL %q", out.Upload.DownloadURL)
	}

	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress decreased: %v", progress)
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("progress should end at 100: %v", progress)
	}

	obj, err := backend.Get(out.Upload.StoragePath)
	if err != nil {
		t.Fatalf("object not stored: %v", err)
	}
	if !bytes.Equal(obj.Data, out.Encoded.Blob.Data) {
		t.Error("stored bytes differ from the encoded blob")
	}
}

func TestProcessAndUploadErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := mock_storage.NewMockBackend(ctrl)
	backend.EXPECT().
		Put(gomock.Any(), "club-images/club-1/logo.webp", gomock.Any(), gomock.Any(), "image/webp", gomock.Any()).
		Return("", errors.New("503 slow down"))

	engine := &stubEngine{width: 1000, height: 1000}
	p := New(Options{Engine: engine, Uploader: storage.NewClient(backend, storage.NewAnonymousAuth(nil))})
	in := Input{Data: []byte("x"), MIMEType: "image/png", Kind: types.KindLogo}

	_, err := p.ProcessAndUpload(context.Background(), in, "club-1", nil)
	if !errors.Is(err, types.ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if types.IsEncodingError(err) {
		t.Error("upload failure reported as encoding error")
	}

	if _, err := p.ProcessAndUpload(context.Background(), in, "../club", nil); !errors.Is(err, types.ErrInvalidEntityKey) {
		t.Errorf("expected ErrInvalidEntityKey, got %v", err)
	}
	if _, err := New(Options{Engine: engine}).ProcessAndUpload(context.Background(), in, "club-1", nil); !errors.Is(err, ErrNoUploader) {
		t.Errorf("expected ErrNoUploader, got %v", err)
	}
}

func TestUploadAll(t *testing.T) {
	uploader, backend := memoryUploader()
	engine := &stubEngine{width: 1920, height: 1080}
	p := New(Options{Engine: engine, Uploader: uploader})

	var mu sync.Mutex
	last := map[types.Kind]float64{}
	out, err := p.UploadAll(context.Background(), "club-7", []Input{
		{Data: []byte("a"), MIMEType: "image/png", Kind: types.KindLogo},
		{Data: []byte("b"), MIMEType: "image/png", Kind: types.KindCover},
	}, func(kind types.Kind, pct float64) {
		mu.Lock()
		last[kind] = pct
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("UploadAll failed: %v", err)
	}

	if len(out) != 2 || backend.Len() != 2 {
		t.Fatalf("expected two uploads, got %d outcomes and %d objects", len(out), backend.Len())
	}
	if diff := cmp.Diff(map[types.Kind]float64{types.KindLogo: 100, types.KindCover: 100}, last); diff != "" {
		t.Errorf("final progress mismatch (-want +got):\n%s", diff)
	}

	_, err = p.UploadAll(context.Background(), "club-7", []Input{
		{Data: []byte("a"), MIMEType: "image/png", Kind: types.KindLogo},
		{Data: []byte("b"), MIMEType: "image/png", Kind: types.KindLogo},
	}, nil)
	if err == nil {
		t.Error("expected an error for duplicate kinds")
	}
}

func TestOptimize(t *testing.T) {
	p := New(Options{})

	var buf bytes.Buffer
	if err := webp.Encode(&buf, imggen.Gradient(100, 100), &webp.Options{Quality: 75}); err != nil {
		t.Fatal(err)
	}

	res, err := p.Optimize(context.Background(), buf.Bytes(), types.KindLogo)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if !bytes.Equal(res.Blob.Data, buf.Bytes()) {
		t.Error("blob within budget should be returned unchanged")
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version || Version == "" {
		t.Errorf("unexpected version %q", GetVersion())
	}
}

func BenchmarkProcessLogo(b *testing.B) {
	p := New(Options{})
	data := imggen.JPEG(imggen.Gradient(1024, 768))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Process(context.Background(), Input{Data: data, Kind: types.KindLogo})
	}
}
