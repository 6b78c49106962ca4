// Package blobstore keeps image bytes on local disk, addressed by digest.
package blobstore

import (
	"context"
	"io"
)

// sniffLen matches the number of bytes http.DetectContentType looks at.
const sniffLen = 512

// PutResult describes one persisted payload.
type PutResult struct {
	SHA256    string
	SizeBytes int64
	BlobKey   string
	// Head holds the leading bytes of the payload for media type sniffing.
	Head []byte
}

// Store is the byte storage behind the local draft store.
type Store interface {
	Put(ctx context.Context, r io.Reader) (PutResult, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
