package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound reports a path with no stored blob.
var ErrNotFound = errors.New("blob not found")

// Store is the byte/text storage the pipelines read case files from and write
// stage outputs to. Paths are slash-separated keys relative to the store root.
// Message schemas keep the legacy gcs_path field name on the wire, but nothing
// here assumes a particular backend.
type Store interface {
	Upload(ctx context.Context, path string, r io.Reader) error
	UploadText(ctx context.Context, path string, text string) error
	Download(ctx context.Context, path string) ([]byte, error)
	DownloadText(ctx context.Context, path string) (string, error)
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
}
