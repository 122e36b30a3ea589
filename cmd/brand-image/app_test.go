package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/brandimage/internal/config"
	"github.com/menta2k/brandimage/pkg/detection"
	"github.com/menta2k/brandimage/pkg/storage"
	"github.com/menta2k/brandimage/pkg/types"
	"github.com/menta2k/brandimage/pkg/vision"
)

func TestParseCrop(t *testing.T) {
	crop, err := parseCrop("10, 20,300,150", 2)
	if err != nil {
		t.Fatalf("parseCrop failed: %v", err)
	}
	want := &types.ManualCrop{Area: types.CropRectangle{X: 10, Y: 20, Width: 300, Height: 150}, Zoom: 2}
	if diff := cmp.Diff(want, crop); diff != "" {
		t.Errorf("crop mismatch (-want +got):\n%s", diff)
	}

	if crop, err := parseCrop("  ", 1); err != nil || crop != nil {
		t.Errorf("Expected no crop for empty input, got %v, %v", crop, err)
	}

	for _, bad := range []string{"1,2,3", "a,b,c,d", "1,2,3,4,5"} {
		if _, err := parseCrop(bad, 1); !errors.Is(err, types.ErrInvalidCrop) {
			t.Errorf("parseCrop(%q): expected ErrInvalidCrop, got %v", bad, err)
		}
	}
}

func TestNewBackend(t *testing.T) {
	c := config.Default()

	c.Storage.Backend = "memory"
	b, err := newBackend(context.Background(), c)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := b.(*storage.MemoryBackend); !ok {
		t.Errorf("Expected *storage.MemoryBackend, got %T", b)
	}

	c.Storage.Backend = "Local"
	c.Storage.LocalDir = t.TempDir()
	b, err = newBackend(context.Background(), c)
	if err != nil {
		t.Fatalf("local backend: %v", err)
	}
	if _, ok := b.(*storage.LocalBackend); !ok {
		t.Errorf("Expected *storage.LocalBackend, got %T", b)
	}

	c.Storage.Backend = "ftp"
	if _, err := newBackend(context.Background(), c); err == nil {
		t.Error("Expected an error for an unknown backend")
	}
}

func TestNewDetector(t *testing.T) {
	c := config.Default()

	d, err := newDetector(c)
	if err != nil || d != nil {
		t.Errorf("Expected no detector by default, got %v, %v", d, err)
	}

	c.Focus.Backend = "ollama"
	d, err = newDetector(c)
	if err != nil || d == nil {
		t.Fatalf("Expected a detector, got %v, %v", d, err)
	}

	c.Focus.Backend = "llamacpp"
	c.Focus.URL = "http://localhost:8081"
	d, err = newDetector(c)
	if err != nil || d == nil {
		t.Fatalf("Expected a llama.cpp detector, got %v, %v", d, err)
	}

	c.Focus.URL = "not a url"
	if _, err := newDetector(c); err == nil {
		t.Error("Expected an error for an invalid URL")
	}
}

func TestNewFocusFinder(t *testing.T) {
	c := config.Default()

	f, err := newFocusFinder(c)
	if err != nil || f != nil {
		t.Errorf("Expected no focus finder by default, got %v, %v", f, err)
	}

	c.Focus.Backend = "saliency"
	f, err = newFocusFinder(c)
	if err != nil {
		t.Fatalf("newFocusFinder failed: %v", err)
	}
	if _, ok := f.(*vision.SubjectDetector); !ok {
		t.Errorf("Expected *vision.SubjectDetector, got %T", f)
	}

	c.Focus.Backend = "ollama"
	f, err = newFocusFinder(c)
	if err != nil {
		t.Fatalf("newFocusFinder failed: %v", err)
	}
	if _, ok := f.(*detection.Detector); !ok {
		t.Errorf("Expected *detection.Detector, got %T", f)
	}
}

func TestNewPipeline(t *testing.T) {
	c := config.Default()
	c.Storage.Backend = "memory"
	c.Auth.SessionPath = ""

	client, err := newStorageClient(context.Background(), c)
	if err != nil {
		t.Fatalf("newStorageClient failed: %v", err)
	}
	p, err := newPipeline(c, client)
	if err != nil {
		t.Fatalf("newPipeline failed: %v", err)
	}

	spec, err := p.Spec(types.KindCover)
	if err != nil {
		t.Fatalf("Spec failed: %v", err)
	}
	if spec.MaxDimension != 1600 {
		t.Errorf("Expected cover width 1600, got %d", spec.MaxDimension)
	}

	c.Raster.Filter = "nope"
	if _, err := newPipeline(c, nil); err == nil {
		t.Error("Expected an error for an unknown filter")
	}
}

func TestWriteDetection(t *testing.T) {
	var buf bytes.Buffer
	result := &types.SubjectResult{Description: "a crest", Tags: []string{"logo"}}
	if err := writeDetection(&buf, result, &types.Focus{Cx: 0.25, Cy: 0.75}); err != nil {
		t.Fatalf("writeDetection failed: %v", err)
	}

	var got struct {
		Subject types.SubjectResult `json:"subject"`
		Focus   types.Focus         `json:"focus"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(types.Focus{Cx: 0.25, Cy: 0.75}, got.Focus); diff != "" {
		t.Errorf("focus mismatch (-want +got):\n%s", diff)
	}
	if got.Subject.Description != "a crest" {
		t.Errorf("Expected description %q, got %q", "a crest", got.Subject.Description)
	}

	buf.Reset()
	if err := writeDetection(&buf, result, &types.Focus{Cx: math.NaN(), Cy: 0.5}); err == nil {
		t.Error("Expected an error for a focus that cannot be encoded")
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no output on error, got %q", buf.String())
	}
}
