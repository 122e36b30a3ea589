// Package server exposes the image pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/menta2k/brandimage"
	"github.com/menta2k/brandimage/pkg/encoder"
	"github.com/menta2k/brandimage/pkg/types"
)

// formOverhead is allowed on top of the input ceiling for multipart framing
// and crop fields.
const formOverhead = 1 << 20

// Pipeline is the part of brandimage.Pipeline the server needs.
type Pipeline interface {
	ProcessAndUpload(ctx context.Context, in brandimage.Input, entityKey string, progress types.ProgressFunc) (*brandimage.Outcome, error)
	Optimize(ctx context.Context, data []byte, kind types.Kind) (*encoder.Result, error)
	Spec(kind types.Kind) (types.OutputSpec, error)
}

// Deleter removes stored images. *storage.Client implements it.
type Deleter interface {
	Delete(ctx context.Context, entityKey string, kind types.Kind) error
}

// Server is the HTTP front of a Pipeline.
type Server struct {
	chi.Router

	pipeline Pipeline
	deleter  Deleter
}

// Option is a server option.
type Option func(*Server)

// WithDeleter returns an Option that adds the delete route.
func WithDeleter(d Deleter) Option {
	return func(s *Server) {
		s.deleter = d
	}
}

// New returns a Server for pipeline:
//
//	POST   /clubs/{EntityKey}/images/{Kind}   multipart "image" (+ crop_x, crop_y, crop_width, crop_height, zoom)
//	DELETE /clubs/{EntityKey}/images/{Kind}   with WithDeleter
//	POST   /optimize/{Kind}                   raw image body, responds with the optimized blob
//	GET    /healthz
func New(pipeline Pipeline, opts ...Option) *Server {
	s := &Server{
		Router:   chi.NewRouter(),
		pipeline: pipeline,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.init()
	return s
}

func (s *Server) init() {
	s.Use(RequestLogger)

	s.Get("/healthz", s.health)
	s.Post("/clubs/{EntityKey}/images/{Kind}", s.uploadImage)
	if s.deleter != nil {
		s.Delete("/clubs/{EntityKey}/images/{Kind}", s.deleteImage)
	}
	s.Post("/optimize/{Kind}", s.optimize)
}

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	DownloadURL string          `json:"downloadUrl"`
	StoragePath string          `json:"storagePath"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Bytes       int             `json:"bytes"`
	Quality     float64         `json:"quality"`
	Attempts    []types.Attempt `json:"attempts"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": brandimage.Version,
	})
}

func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	kind, spec, err := s.kindParam(r)
	if err != nil {
		Error(w, r, err)
		return
	}
	entityKey := chi.URLParam(r, "EntityKey")

	r.Body = http.MaxBytesReader(w, r.Body, spec.InputCeiling+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, r, &types.InputTooLargeError{Kind: kind, Size: tooLarge.Limit + 1, Limit: spec.InputCeiling})
			return
		}
		ErrorStatus(w, r, http.StatusBadRequest, "malformed_form", fmt.Errorf("parse form: %w", err))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		ErrorStatus(w, r, http.StatusBadRequest, "missing_image", fmt.Errorf("form file %q: %w", "image", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		ErrorStatus(w, r, http.StatusBadRequest, "malformed_form", fmt.Errorf("read image: %w", err))
		return
	}

	crop, err := parseCrop(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	logger := zerolog.Ctx(r.Context())
	in := brandimage.Input{
		Data:     data,
		MIMEType: header.Header.Get("Content-Type"),
		Kind:     kind,
		Crop:     crop,
	}
	out, err := s.pipeline.ProcessAndUpload(r.Context(), in, entityKey, func(pct float64) {
		logger.Debug().Str("entity", entityKey).Float64("percent", pct).Msg("Upload progress")
	})
	if err != nil {
		Error(w, r, err)
		return
	}

	blob := out.Encoded.Blob
	JSON(w, r, http.StatusCreated, UploadResponse{
		DownloadURL: out.Upload.DownloadURL,
		StoragePath: out.Upload.StoragePath,
		Width:       blob.Width,
		Height:      blob.Height,
		Bytes:       blob.Size(),
		Quality:     blob.Quality,
		Attempts:    out.Encoded.Attempts,
	})
}

func (s *Server) deleteImage(w http.ResponseWriter, r *http.Request) {
	kind, _, err := s.kindParam(r)
	if err != nil {
		Error(w, r, err)
		return
	}
	if err := s.deleter.Delete(r.Context(), chi.URLParam(r, "EntityKey"), kind); err != nil {
		Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) optimize(w http.ResponseWriter, r *http.Request) {
	kind, spec, err := s.kindParam(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, spec.InputCeiling))
	if err != nil {
		Error(w, r, err)
		return
	}
	if len(data) == 0 {
		Error(w, r, types.ErrEmptyInput)
		return
	}

	res, err := s.pipeline.Optimize(r.Context(), data, kind)
	if err != nil {
		Error(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", res.Blob.MIMEType)
	h.Set("Content-Length", strconv.Itoa(res.Blob.Size()))
	h.Set("X-Image-Width", strconv.Itoa(res.Blob.Width))
	h.Set("X-Image-Height", strconv.Itoa(res.Blob.Height))
	if res.Blob.Quality > 0 {
		h.Set("X-Image-Quality", strconv.FormatFloat(res.Blob.Quality, 'f', 2, 64))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Blob.Data)
}

func (s *Server) kindParam(r *http.Request) (types.Kind, types.OutputSpec, error) {
	kind, err := types.ParseKind(chi.URLParam(r, "Kind"))
	if err != nil {
		return "", types.OutputSpec{}, err
	}
	spec, err := s.pipeline.Spec(kind)
	if err != nil {
		return "", types.OutputSpec{}, err
	}
	return kind, spec, nil
}

// parseCrop reads the optional manual crop fields. The crop is present when
// crop_width is set; zoom defaults to 1.
func parseCrop(r *http.Request) (*types.ManualCrop, error) {
	if r.FormValue("crop_width") == "" {
		return nil, nil
	}

	var c types.ManualCrop
	fields := []struct {
		name string
		dst  *float64
	}{
		{"crop_x", &c.Area.X},
		{"crop_y", &c.Area.Y},
		{"crop_width", &c.Area.Width},
		{"crop_height", &c.Area.Height},
	}

	for _, f := range fields {
		v, err := strconv.ParseFloat(r.FormValue(f.name), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidCrop, f.name, err)
		}
		*f.dst = v
	}

	c.Zoom = 1
	if raw := r.FormValue("zoom"); raw != "" {
		z, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: zoom: %v", types.ErrInvalidCrop, err)
		}
		c.Zoom = z
	}
	return &c, nil
}
