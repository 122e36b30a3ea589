package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/brandimage"
	"github.com/menta2k/brandimage/internal/config"
	"github.com/menta2k/brandimage/internal/session"
	"github.com/menta2k/brandimage/pkg/client"
	"github.com/menta2k/brandimage/pkg/detection"
	"github.com/menta2k/brandimage/pkg/llamacpp"
	"github.com/menta2k/brandimage/pkg/ollama"
	"github.com/menta2k/brandimage/pkg/processing"
	"github.com/menta2k/brandimage/pkg/storage"
	"github.com/menta2k/brandimage/pkg/vision"
)

// newBackend returns the storage backend selected by the configuration.
func newBackend(ctx context.Context, c *config.Config) (storage.Backend, error) {
	switch strings.ToLower(c.Storage.Backend) {
	case "s3":
		s3 := c.Storage.S3
		return storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:        s3.Bucket,
			Region:        s3.Region,
			Endpoint:      s3.Endpoint,
			UsePathStyle:  s3.UsePathStyle,
			PublicBaseURL: s3.PublicBaseURL,
			PresignExpiry: s3.PresignExpiry.Std(),
		})
	case "local":
		return storage.NewLocalBackend(c.Storage.LocalDir, c.Storage.LocalURL), nil
	case "memory":
		return storage.NewMemoryBackend(c.Storage.MemoryBaseURL), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
}

// newStorageClient returns the upload client with anonymous sign-in.
func newStorageClient(ctx context.Context, c *config.Config) (*storage.Client, error) {
	backend, err := newBackend(ctx, c)
	if err != nil {
		return nil, err
	}

	var store session.Store
	if c.Auth.SessionPath != "" {
		store = session.NewFileStore(c.Auth.SessionPath)
	}
	auth := storage.NewAnonymousAuth(store, storage.WithRetries(c.Auth.Retries, c.Auth.Backoff.Std()))

	log.Debug().
		Str("backend", c.Storage.Backend).
		Str("prefix", c.Storage.Prefix).
		Msg("Storage client ready")

	return storage.NewClient(backend, auth, storage.WithPrefix(c.Storage.Prefix)), nil
}

// newDetector returns the model-backed focus detector, or nil when
// focus.backend does not name a vision model server.
func newDetector(c *config.Config) (*detection.Detector, error) {
	var vc client.VisionClient
	switch strings.ToLower(c.Focus.Backend) {
	case "ollama":
		oc, err := ollama.NewClient(c.Focus.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		oc.SetTimeout(c.Focus.Timeout.Std())
		vc = oc
	case "llamacpp":
		lc, err := llamacpp.NewClient(c.Focus.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		lc.SetTimeout(c.Focus.Timeout.Std())
		vc = lc
	default:
		return nil, nil
	}

	return detection.NewDetector(vc, detection.Config{
		Model:         c.Focus.Model,
		MinConfidence: c.Focus.MinConfidence,
	}), nil
}

// newFocusFinder returns the focus finder for the pipeline. nil means
// automatic crops are centred.
func newFocusFinder(c *config.Config) (brandimage.FocusFinder, error) {
	if strings.EqualFold(c.Focus.Backend, "saliency") {
		return vision.New(), nil
	}
	detector, err := newDetector(c)
	if err != nil || detector == nil {
		return nil, err
	}
	return detector, nil
}

// newPipeline wires the pipeline from the configuration. uploader may be nil
// for commands that never upload.
func newPipeline(c *config.Config, uploader brandimage.Uploader) (*brandimage.Pipeline, error) {
	engine, err := processing.NewProcessorWithConfig(processing.Config{
		Filter:     c.Raster.Filter,
		AutoOrient: c.Raster.AutoOrient,
	})
	if err != nil {
		return nil, err
	}

	opts := brandimage.Options{
		Specs:            c.Specs(),
		AllowedTypes:     c.Raster.AllowedTypes,
		RejectUndersized: c.Raster.RejectUndersized,
		Engine:           engine,
	}
	if uploader != nil {
		opts.Uploader = uploader
	}

	focus, err := newFocusFinder(c)
	if err != nil {
		return nil, err
	}
	opts.Focus = focus

	return brandimage.New(opts), nil
}
