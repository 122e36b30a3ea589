package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"
)

// ErrObjectNotFound is returned by MemoryBackend.Get for unknown keys.
var ErrObjectNotFound = errors.New("storage: object not found")

// Object is a stored blob with its attributes.
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// MemoryBackend keeps objects in memory. It is used by tests and the
// "memory" storage backend of the CLI.
type MemoryBackend struct {
	mux     sync.RWMutex
	objects map[string]Object
	baseURL string
}

// NewMemoryBackend returns an empty MemoryBackend whose URLs start with baseURL.
func NewMemoryBackend(baseURL string) *MemoryBackend {
	if baseURL == "" {
		baseURL = "memory://"
	}
	return &MemoryBackend{objects: make(map[string]Object), baseURL: baseURL}
}

func (d *MemoryBackend) Put(ctx context.Context, key string, body io.ReadSeeker, _ int64, contentType string, metadata map[string]string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("storage: read body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mux.Lock()
	defer d.mux.Unlock()
	d.objects[key] = Object{Data: data, ContentType: contentType, Metadata: maps.Clone(metadata)}
	return d.baseURL + key, nil
}

// Get returns a copy of the object at key.
func (d *MemoryBackend) Get(key string) (Object, error) {
	d.mux.RLock()
	defer d.mux.RUnlock()
	obj, ok := d.objects[key]
	if !ok {
		return Object{}, ErrObjectNotFound
	}
	out := make([]byte, len(obj.Data))
	copy(out, obj.Data)
	obj.Data = out
	obj.Metadata = maps.Clone(obj.Metadata)
	return obj, nil
}

// Len returns the number of stored objects.
func (d *MemoryBackend) Len() int {
	d.mux.RLock()
	defer d.mux.RUnlock()
	return len(d.objects)
}

func (d *MemoryBackend) Delete(_ context.Context, key string) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	delete(d.objects, key)
	return nil
}
