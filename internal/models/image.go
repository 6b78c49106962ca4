package models

import "time"

// LocalImage is an image blob owned by the local draft store.
type LocalImage struct {
	Key       LocalImageKey `json:"key"`
	Filename  string        `json:"filename"`
	MediaType string        `json:"media_type"`
	SizeBytes int64         `json:"size_bytes"`
	SHA256    string        `json:"sha256"`
	BlobKey   string        `json:"blob_key"`
	CreatedAt time.Time     `json:"created_at"`
}
