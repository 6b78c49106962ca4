// Package publish uploads the local draft to the box as a self-contained
// article folder.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"draftcell/internal/apperr"
	"draftcell/internal/models"
	"draftcell/internal/webdav"
)

const (
	imagesDir = "images"

	ManifestName        = "content.json"
	ManifestContentType = "text/json"
	IndexName           = "index.html"
	IndexContentType    = "text/html"

	DefaultTemplatePath = "__template/index.html"
)

// RemoteStore is the part of the remote client the publisher drives.
type RemoteStore interface {
	Exists(ctx context.Context, p string) (bool, error)
	CreateCollection(ctx context.Context, p string) error
	PutFile(ctx context.Context, p string, body io.Reader, contentType string) error
	GetFile(ctx context.Context, p string) (webdav.Blob, error)
}

// DraftSource is the part of the local draft store the publisher reads.
type DraftSource interface {
	CurrentDraft(ctx context.Context) (models.Draft, bool, error)
	GetImage(ctx context.Context, key models.LocalImageKey) (models.LocalImage, io.ReadCloser, error)
}

// Options configures a Publisher.
type Options struct {
	// BoxURL is the public root of the box, ending in "/".
	BoxURL string
	// TemplatePath is the box-relative viewer page copied into each article.
	TemplatePath string
}

// Result describes one finished publish.
type Result struct {
	URL            string `json:"url"`
	ArticleID      string `json:"article_id"`
	ImagesUploaded int    `json:"images_uploaded"`
	CreatedFolder  bool   `json:"created_folder"`
}

// Publisher runs one publish at a time.
type Publisher struct {
	remote   RemoteStore
	drafts   DraftSource
	opts     Options
	inFlight *semaphore.Weighted
	newName  func() string
	logger   *slog.Logger
}

// New returns a Publisher.
func New(remote RemoteStore, drafts DraftSource, opts Options) (*Publisher, error) {
	if remote == nil || drafts == nil {
		return nil, fmt.Errorf("remote store and draft source are required")
	}
	if !strings.HasSuffix(opts.BoxURL, "/") {
		return nil, apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("box url %q must end with /", opts.BoxURL))
	}
	if strings.TrimSpace(opts.TemplatePath) == "" {
		opts.TemplatePath = DefaultTemplatePath
	}
	return &Publisher{
		remote:   remote,
		drafts:   drafts,
		opts:     opts,
		inFlight: semaphore.NewWeighted(1),
		newName:  uuid.NewString,
		logger:   slog.Default().With("component", "publish"),
	}, nil
}

// Publish uploads the current draft under articleID and returns the article
// URL.
func (p *Publisher) Publish(ctx context.Context, articleID string) (string, error) {
	res, err := p.Run(ctx, articleID)
	if err != nil {
		return "", err
	}
	return res.URL, nil
}

// Run is Publish with details. Steps run strictly in order and the first
// failure aborts; nothing already uploaded is rolled back. A second call while
// one is running fails with apperr.ErrPublishInProgress.
func (p *Publisher) Run(ctx context.Context, articleID string) (Result, error) {
	if err := ValidateArticleID(articleID); err != nil {
		return Result{}, err
	}
	if !p.inFlight.TryAcquire(1) {
		return Result{}, apperr.ErrPublishInProgress
	}
	defer p.inFlight.Release(1)

	folder := articleID
	imageFolder := folder + "/" + imagesDir
	logger := p.logger.With("article", articleID)
	res := Result{ArticleID: articleID}

	exists, err := p.remote.Exists(ctx, folder)
	if err != nil {
		return Result{}, fmt.Errorf("probe %s: %w", folder, err)
	}
	if !exists {
		// The image folder is created with the article folder and never probed
		// on its own.
		if err := p.remote.CreateCollection(ctx, folder); err != nil {
			return Result{}, fmt.Errorf("create %s: %w", folder, err)
		}
		if err := p.remote.CreateCollection(ctx, imageFolder); err != nil {
			return Result{}, fmt.Errorf("create %s: %w", imageFolder, err)
		}
		res.CreatedFolder = true
		logger.Info("created article folder")
	}

	draft, ok, err := p.drafts.CurrentDraft(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load draft: %w", err)
	}
	if !ok {
		draft = models.Draft{Blocks: []models.Block{}}
	}

	blocks := make([]models.Block, len(draft.Blocks))
	for i, block := range draft.Blocks {
		img, isImage := block.Image()
		if !isImage || !img.IsLocal() {
			blocks[i] = block
			continue
		}
		key := *img.File.Key
		rel, err := p.uploadImage(ctx, imageFolder, key)
		if err != nil {
			return Result{}, err
		}
		img.File.URL = imagesDir + "/" + rel
		img.File.Key = nil
		blocks[i] = block.WithData(img)
		res.ImagesUploaded++
		logger.Debug("image uploaded", "key", key, "name", rel)
	}
	draft.Blocks = blocks

	manifest, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := p.remote.PutFile(ctx, folder+"/"+ManifestName, bytes.NewReader(manifest), ManifestContentType); err != nil {
		return Result{}, fmt.Errorf("upload manifest: %w", err)
	}

	tmpl, err := p.remote.GetFile(ctx, p.opts.TemplatePath)
	if err != nil {
		return Result{}, fmt.Errorf("fetch template: %w", err)
	}
	if err := p.remote.PutFile(ctx, folder+"/"+IndexName, bytes.NewReader(tmpl.Data), IndexContentType); err != nil {
		return Result{}, fmt.Errorf("upload index: %w", err)
	}

	res.URL = p.opts.BoxURL + folder + "/" + IndexName
	logger.Info("published", "url", res.URL, "images", res.ImagesUploaded)
	return res, nil
}

func (p *Publisher) uploadImage(ctx context.Context, imageFolder string, key models.LocalImageKey) (string, error) {
	meta, rc, err := p.drafts.GetImage(ctx, key)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return "", apperr.Wrap(apperr.CodeLocalStoreCorruption, fmt.Sprintf("draft references missing image %s", key), err)
		}
		return "", fmt.Errorf("read image %s: %w", key, err)
	}
	defer rc.Close()

	name := p.newName() + imageExtension(meta)
	if err := p.remote.PutFile(ctx, imageFolder+"/"+name, rc, meta.MediaType); err != nil {
		return "", fmt.Errorf("upload image %s: %w", key, err)
	}
	return name, nil
}

// ValidateArticleID accepts a single non-empty path segment.
func ValidateArticleID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return apperr.New(apperr.CodeInvalidArgument, "article id is required")
	case id != strings.TrimSpace(id):
		return apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("article id %q has surrounding whitespace", id))
	case strings.ContainsAny(id, "/\\?#"):
		return apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("article id %q must be a single path segment", id))
	case id == "." || id == ".." || strings.HasPrefix(id, "__"):
		return apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("article id %q is reserved", id))
	}
	return nil
}

var preferredExtensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
	"image/bmp":     ".bmp",
}

// imageExtension derives the uploaded file extension from the media type,
// then from the original filename. No extension yields "".
func imageExtension(image models.LocalImage) string {
	mediaType, _, _ := mime.ParseMediaType(image.MediaType)
	mediaType = strings.ToLower(mediaType)
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if ext := strings.ToLower(filepath.Ext(image.Filename)); ext != "" && !strings.ContainsAny(ext, " /\\?#") {
		return ext
	}
	if mediaType != "" {
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ""
}
