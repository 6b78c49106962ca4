package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"draftcell/internal/apperr"
)

const casAlgorithmPrefix = "sha256"

// LocalCAS stores image bytes under <root>/sha256/ab/cd/<digest>.
type LocalCAS struct {
	root     string
	maxBytes int64
}

// Option configures a LocalCAS.
type Option func(*LocalCAS)

// WithMaxBytes rejects payloads larger than n bytes. Zero means unlimited.
func WithMaxBytes(n int64) Option {
	return func(c *LocalCAS) {
		c.maxBytes = n
	}
}

// NewLocalCAS creates the blob tree rooted at root.
func NewLocalCAS(root string, opts ...Option) (*LocalCAS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("blob root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{abs, filepath.Join(abs, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
	}
	c := &LocalCAS{root: abs}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Root returns the absolute root directory.
func (c *LocalCAS) Root() string {
	return c.root
}

// Put streams r to a temp file, hashes it and moves it into place. Storing the
// same bytes twice yields the same key.
func (c *LocalCAS) Put(ctx context.Context, r io.Reader) (PutResult, error) {
	var zero PutResult
	if r == nil {
		return zero, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	tmp, err := os.CreateTemp(filepath.Join(c.root, "tmp"), "put-*")
	if err != nil {
		return zero, err
	}
	tmpPath := tmp.Name()
	discard := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	src := r
	if c.maxBytes > 0 {
		src = io.LimitReader(r, c.maxBytes+1)
	}
	head := &headWriter{limit: sniffLen}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h, head), src)
	if err != nil {
		discard()
		return zero, err
	}
	if c.maxBytes > 0 && n > c.maxBytes {
		discard()
		return zero, apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("image exceeds %d bytes", c.maxBytes))
	}
	if err := tmp.Close(); err != nil {
		discard()
		return zero, err
	}

	digest := hex.EncodeToString(h.Sum(nil))
	result := PutResult{SHA256: digest, SizeBytes: n, BlobKey: keyForDigest(digest), Head: head.buf}
	dst := filepath.Join(c.root, filepath.FromSlash(result.BlobKey))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		discard()
		return zero, err
	}

	if _, err := os.Stat(dst); err == nil {
		_ = os.Remove(tmpPath)
		return result, nil
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		if _, statErr := os.Stat(dst); statErr == nil {
			_ = os.Remove(tmpPath)
			return result, nil
		}
		discard()
		return zero, err
	}
	return result, nil
}

// Open returns the bytes stored under key. A missing file is reported as
// apperr.ErrNotFound.
func (c *LocalCAS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := c.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.Wrap(apperr.CodeNotFound, "blob "+key+" not found", err)
	}
	return f, err
}

// Delete removes a blob. Missing files are ignored.
func (c *LocalCAS) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := c.pathFromKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func keyForDigest(digest string) string {
	return fmt.Sprintf("%s/%s/%s/%s", casAlgorithmPrefix, digest[0:2], digest[2:4], digest)
}

func (c *LocalCAS) pathFromKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", apperr.New(apperr.CodeInvalidArgument, "blob key is required")
	}
	if !strings.HasPrefix(key, casAlgorithmPrefix+"/") {
		return "", apperr.New(apperr.CodeInvalidArgument, "invalid blob key "+key)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.Contains(clean, "..") {
		return "", apperr.New(apperr.CodeInvalidArgument, "invalid blob key "+key)
	}
	return filepath.Join(c.root, clean), nil
}

type headWriter struct {
	buf   []byte
	limit int
}

func (w *headWriter) Write(p []byte) (int, error) {
	if room := w.limit - len(w.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
	}
	return len(p), nil
}
