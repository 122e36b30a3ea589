package storage

//go:generate mockgen -source=storage.go -destination=./mock_storage/backend.go

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/brandimage/pkg/types"
)

// DefaultPrefix is the key prefix under which club images are stored.
const DefaultPrefix = "club-images"

// Backend persists objects and returns a URL to download them.
type Backend interface {
	// Put stores size bytes read from body under key and returns a download
	// URL. Put may seek body back to the start and read it again.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, metadata map[string]string) (string, error)

	// Delete removes the object at key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

// entityKeyPattern allows alphanumerics, dots, hyphens and underscores.
var entityKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateEntityKey checks that key can be used as a single path segment.
func ValidateEntityKey(key string) error {
	if strings.Contains(key, "..") || !entityKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", types.ErrInvalidEntityKey, key)
	}
	return nil
}

// ObjectPath returns the storage key of an entity's image of kind.
func ObjectPath(prefix, entityKey string, kind types.Kind) string {
	return path.Join(prefix, entityKey, kind.String()+".webp")
}

// Client uploads encoded blobs on behalf of an authenticated identity.
type Client struct {
	backend Backend
	auth    Authenticator
	prefix  string
}

// Option configures a Client.
type Option func(*Client)

// WithPrefix returns an Option that changes the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = strings.Trim(prefix, "/")
	}
}

// NewClient returns a Client that writes to backend after signing in with auth.
func NewClient(backend Backend, auth Authenticator, opts ...Option) *Client {
	c := &Client{backend: backend, auth: auth, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload stores blob as the kind image of entityKey. Progress is reported as
// non-decreasing percentages and reaches 100 only after the backend confirmed
// the write. Storage failures are returned as *types.UploadError.
func (c *Client) Upload(ctx context.Context, entityKey string, kind types.Kind, blob types.EncodedBlob, progress types.ProgressFunc) (types.UploadResult, error) {
	if err := ValidateEntityKey(entityKey); err != nil {
		return types.UploadResult{}, err
	}
	key := ObjectPath(c.prefix, entityKey, kind)

	identity, err := c.auth.SignIn(ctx)
	if err != nil {
		return types.UploadResult{}, &types.UploadError{Path: key, Err: fmt.Errorf("sign in: %w", err)}
	}

	contentType := blob.MIMEType
	if contentType == "" {
		contentType = "image/webp"
	}

	body := newProgressReader(blob.Data, progress)
	body.report(0)

	log.Debug().
		Str("key", key).
		Str("uid", identity.UID).
		Int("bytes", len(blob.Data)).
		Msg("Uploading blob")

	url, err := c.backend.Put(ctx, key, body, int64(len(blob.Data)), contentType, map[string]string{
		"uploaded-by": identity.UID,
		"kind":        kind.String(),
	})
	if err != nil {
		return types.UploadResult{}, &types.UploadError{Path: key, Err: err}
	}
	body.report(100)

	log.Info().
		Str("key", key).
		Str("url", url).
		Msg("Blob uploaded")

	return types.UploadResult{DownloadURL: url, StoragePath: key}, nil
}

// Delete removes the kind image of entityKey.
func (c *Client) Delete(ctx context.Context, entityKey string, kind types.Kind) error {
	if err := ValidateEntityKey(entityKey); err != nil {
		return err
	}
	key := ObjectPath(c.prefix, entityKey, kind)
	if _, err := c.auth.SignIn(ctx); err != nil {
		return &types.UploadError{Path: key, Err: fmt.Errorf("sign in: %w", err)}
	}
	if err := c.backend.Delete(ctx, key); err != nil {
		return &types.UploadError{Path: key, Err: err}
	}
	return nil
}

// progressReader reports how much of the body has been read. Reads never
// report more than 99 percent; 100 is reserved for a confirmed write.
type progressReader struct {
	r    *bytes.Reader
	size int64
	fn   types.ProgressFunc

	mu   sync.Mutex
	last float64
}

func newProgressReader(data []byte, fn types.ProgressFunc) *progressReader {
	return &progressReader{r: bytes.NewReader(data), size: int64(len(data)), fn: fn, last: -1}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if p.size > 0 {
		read := p.size - int64(p.r.Len())
		p.report(min(float64(read)*100/float64(p.size), 99))
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	return p.r.Seek(offset, whence)
}

// report forwards percent if it is larger than anything reported before.
func (p *progressReader) report(percent float64) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent <= p.last {
		return
	}
	p.last = percent
	p.fn(percent)
}
