package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one object in archive storage.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads archive snapshots to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader lists and retrieves stored snapshots.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver snapshots old sale records from the database to cold storage,
// returning how many records it wrote.
type Archiver interface {
	ArchiveSales(ctx context.Context, before time.Time) (int64, error)
}
