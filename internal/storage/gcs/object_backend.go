// Package gcs persists the seen-set snapshot as a Google Cloud Storage object,
// for deployments without a durable local disk.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/questwatch/internal/storage/snapshot"
)

// Config captures the parameters required to locate the snapshot object.
type Config struct {
	Bucket string
	Object string
}

// ObjectBackend implements snapshot.Backend over one GCS object. Writes are
// conditional on the generation last read or written, so two processes
// sharing the object cannot silently overwrite each other's inserts.
type ObjectBackend struct {
	client    *storage.Client
	ownClient bool
	bucket    string
	object    string

	mu         sync.Mutex
	generation int64
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *storage.Client, cfg Config) (*ObjectBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &ObjectBackend{client: client, bucket: cfg.Bucket, object: cfg.Object}, nil
}

// Open creates a client from Application Default Credentials and loads the
// snapshot store from cfg's object.
func Open(ctx context.Context, cfg Config) (*snapshot.Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	backend, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	backend.ownClient = true
	store, err := snapshot.Open(ctx, backend)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

func (b *ObjectBackend) handle() *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(b.object)
}

// URI returns the gs:// location of the snapshot.
func (b *ObjectBackend) URI() string {
	return fmt.Sprintf("gs://%s/%s", b.bucket, b.object)
}

// Load reads the snapshot object. A missing object is reported as no document.
func (b *ObjectBackend) Load(ctx context.Context) ([]byte, error) {
	reader, err := b.handle().NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		b.setGeneration(0)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", b.URI(), err)
	}
	defer reader.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.URI(), err)
	}
	b.setGeneration(reader.Attrs.Generation)
	return data, nil
}

// Save uploads data if the object is still at the last observed generation.
func (b *ObjectBackend) Save(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cond := storage.Conditions{DoesNotExist: true}
	if b.generation != 0 {
		cond = storage.Conditions{GenerationMatch: b.generation}
	}
	writer := b.handle().If(cond).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write %s: %w (close writer: %v)", b.URI(), err, closeErr)
		}
		return fmt.Errorf("write %s: %w", b.URI(), err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", b.URI(), err)
	}
	if attrs := writer.Attrs(); attrs != nil {
		b.generation = attrs.Generation
	}
	return nil
}

// Close releases the client when the backend created it.
func (b *ObjectBackend) Close() error {
	if !b.ownClient {
		return nil
	}
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

func (b *ObjectBackend) setGeneration(gen int64) {
	b.mu.Lock()
	b.generation = gen
	b.mu.Unlock()
}
