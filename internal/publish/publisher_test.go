package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"testing"

	"draftcell/internal/apperr"
	"draftcell/internal/blobstore"
	"draftcell/internal/draft"
	"draftcell/internal/models"
	"draftcell/internal/store"
	"draftcell/internal/webdav"
	"draftcell/internal/webdav/webdavtest"
)

const templateHTML = "<!doctype html><title>viewer</title>"

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type harness struct {
	srv    *webdavtest.Server
	drafts *draft.Service
	pub    *Publisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := webdavtest.NewServer(t)
	if err := srv.WriteFile("__template/index.html", []byte(templateHTML)); err != nil {
		t.Fatalf("seed template: %v", err)
	}

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "draftcell.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cas, err := blobstore.NewLocalCAS(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("new cas: %v", err)
	}
	drafts := draft.NewService(st, cas, nil)

	remote, err := webdav.NewClient(srv.BoxURL(), srv.Token)
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	pub, err := New(remote, drafts, Options{BoxURL: srv.BoxURL()})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	srv.ResetRequests()
	return &harness{srv: srv, drafts: drafts, pub: pub}
}

// boxRequests returns "METHOD path" for each request, with the box prefix
// stripped.
func (h *harness) boxRequests() []string {
	prefix := strings.TrimPrefix(h.srv.BoxURL(), h.srv.URL)
	var out []string
	for _, req := range h.srv.Requests() {
		out = append(out, req.Method+" "+strings.TrimPrefix(req.Path, prefix))
	}
	return out
}

func decodeManifest(t *testing.T, data []byte) models.Draft {
	t.Helper()
	var manifest models.Draft
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("decode manifest: %v\n%s", err, data)
	}
	return manifest
}

func TestPublishEmptyStoreCreatesArticle(t *testing.T) {
	h := newHarness(t)

	url, err := h.pub.Publish(context.Background(), "1001")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if url != h.srv.BoxURL()+"1001/index.html" {
		t.Fatalf("unexpected url %q", url)
	}

	want := []string{
		"PROPFIND 1001",
		"MKCOL 1001",
		"MKCOL 1001/images",
		"PUT 1001/content.json",
		"GET __template/index.html",
		"PUT 1001/index.html",
	}
	got := h.boxRequests()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected request sequence:\n%s", strings.Join(got, "\n"))
	}

	manifestData, err := h.srv.ReadFile("1001/content.json")
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(manifestData, &raw); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if string(raw["blocks"]) != "[]" {
		t.Fatalf("expected blocks: [], got %s", raw["blocks"])
	}
	if !bytes.Contains(manifestData, []byte("\n  \"blocks\"")) {
		t.Fatalf("expected two-space indented manifest, got %s", manifestData)
	}

	index, err := h.srv.ReadFile("1001/index.html")
	if err != nil || string(index) != templateHTML {
		t.Fatalf("expected template copy, got %q (err %v)", index, err)
	}

	for _, req := range h.srv.Requests() {
		switch {
		case strings.HasSuffix(req.Path, "/content.json"):
			if req.ContentType != ManifestContentType {
				t.Fatalf("manifest content type %q", req.ContentType)
			}
		case req.Method == http.MethodPut && strings.HasSuffix(req.Path, "/index.html"):
			if req.ContentType != IndexContentType {
				t.Fatalf("index content type %q", req.ContentType)
			}
		}
	}
}

func TestPublishRewritesLocalImages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	image, _, err := h.drafts.StoreImage(ctx, bytes.NewReader(pngBytes), "cat.png", "")
	if err != nil {
		t.Fatalf("store image: %v", err)
	}
	key := image.Key
	if err := h.drafts.UpdateDraft(ctx, models.Draft{Blocks: []models.Block{
		{ID: "img1", Data: models.ImageData{File: models.ImageFile{URL: "blob:x", Key: &key}, Caption: "a cat", Stretched: true}},
	}}); err != nil {
		t.Fatalf("update draft: %v", err)
	}

	res, err := h.pub.Run(ctx, "2002")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.ImagesUploaded != 1 || !res.CreatedFolder {
		t.Fatalf("unexpected result %#v", res)
	}

	names, err := h.srv.List("2002/images")
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(names) != 1 || !regexp.MustCompile(`^[0-9a-f-]{36}\.png$`).MatchString(names[0]) {
		t.Fatalf("expected one uuid.png upload, got %v", names)
	}
	uploaded, err := h.srv.ReadFile("2002/images/" + names[0])
	if err != nil || !bytes.Equal(uploaded, pngBytes) {
		t.Fatalf("uploaded bytes differ (err %v)", err)
	}
	for _, req := range h.srv.Requests() {
		if req.Method == http.MethodPut && strings.Contains(req.Path, "/images/") && req.ContentType != "image/png" {
			t.Fatalf("image uploaded with content type %q", req.ContentType)
		}
	}

	manifestData, err := h.srv.ReadFile("2002/content.json")
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if bytes.Contains(manifestData, []byte(`"key"`)) {
		t.Fatalf("manifest still carries a key: %s", manifestData)
	}
	manifest := decodeManifest(t, manifestData)
	if len(manifest.Blocks) != 1 {
		t.Fatalf("expected one block, got %d", len(manifest.Blocks))
	}
	img, ok := manifest.Blocks[0].Image()
	if !ok {
		t.Fatalf("expected image block, got %#v", manifest.Blocks[0])
	}
	if img.File.URL != "images/"+names[0] || img.File.Key != nil {
		t.Fatalf("unexpected image file %#v", img.File)
	}
	if img.Caption != "a cat" || !img.Stretched || manifest.Blocks[0].ID != "img1" {
		t.Fatalf("image block fields lost: %#v", manifest.Blocks[0])
	}

	current, _, err := h.drafts.CurrentDraft(ctx)
	if err != nil {
		t.Fatalf("current draft: %v", err)
	}
	if current.LocalKeys()[0] != key {
		t.Fatal("publishing must not modify the local draft")
	}
}

const editorBlocksJSON = `[
  {"id": "h1", "type": "header", "data": {"text": "Hello", "level": 2}, "tunes": {"anchor": {"id": "intro"}}},
  {"id": "p1", "type": "paragraph", "data": {"text": "<i>body</i>", "alignment": "center"}},
  {"id": "i1", "type": "image", "data": {"file": {"url": "https://cdn.example/a.jpg", "width": 640}, "caption": "", "withBorder": false, "withBackground": false, "stretched": false}},
  {"id": "x", "type": "table", "data": {"withHeadings": false, "content": [["a"]]}},
  {"id": "d1", "type": "delimiter", "data": {}}
]`

func blocksOf(t *testing.T, manifest []byte) any {
	t.Helper()
	var doc struct {
		Blocks any `json:"blocks"`
	}
	if err := json.Unmarshal(manifest, &doc); err != nil {
		t.Fatalf("decode manifest: %v\n%s", err, manifest)
	}
	return doc.Blocks
}

func TestPublishWithoutLocalImagesIsIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	source := models.Draft{Time: 1700000000000, Version: "2.19.0"}
	if err := json.Unmarshal([]byte(editorBlocksJSON), &source.Blocks); err != nil {
		t.Fatalf("decode blocks: %v", err)
	}
	if err := h.drafts.UpdateDraft(ctx, source); err != nil {
		t.Fatalf("update draft: %v", err)
	}

	res, err := h.pub.Run(ctx, "3003")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.ImagesUploaded != 0 {
		t.Fatalf("expected no image uploads, got %d", res.ImagesUploaded)
	}
	for _, req := range h.boxRequests() {
		if strings.HasPrefix(req, "PUT 3003/images/") {
			t.Fatalf("unexpected image upload %s", req)
		}
	}

	manifestData, err := h.srv.ReadFile("3003/content.json")
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var want any
	if err := json.Unmarshal([]byte(editorBlocksJSON), &want); err != nil {
		t.Fatalf("decode source: %v", err)
	}
	if got := blocksOf(t, manifestData); !reflect.DeepEqual(want, got) {
		t.Fatalf("manifest blocks differ from the source:\nwant %v\ngot  %v", want, got)
	}
}

func TestPublishImageKeepsOtherFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	image, _, err := h.drafts.StoreImage(ctx, bytes.NewReader(pngBytes), "cat.png", "")
	if err != nil {
		t.Fatalf("store image: %v", err)
	}
	src := `{"blocks":[{"id":"i1","type":"image","tunes":{"anchor":{"id":"cat"}},` +
		`"data":{"file":{"url":"blob:x","key":"` + string(image.Key) + `","width":640},` +
		`"caption":"","withBorder":false,"withBackground":true,"stretched":false,"align":"left"}}]}`
	var source models.Draft
	if err := json.Unmarshal([]byte(src), &source); err != nil {
		t.Fatalf("decode draft: %v", err)
	}
	if err := h.drafts.UpdateDraft(ctx, source); err != nil {
		t.Fatalf("update draft: %v", err)
	}

	if _, err := h.pub.Run(ctx, "5005"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	names, err := h.srv.List("5005/images")
	if err != nil || len(names) != 1 {
		t.Fatalf("expected one upload, got %v (err %v)", names, err)
	}
	manifestData, err := h.srv.ReadFile("5005/content.json")
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}

	var want any
	wantJSON := `[{"id":"i1","type":"image","tunes":{"anchor":{"id":"cat"}},` +
		`"data":{"file":{"url":"images/` + names[0] + `","width":640},` +
		`"caption":"","withBorder":false,"withBackground":true,"stretched":false,"align":"left"}}]`
	if err := json.Unmarshal([]byte(wantJSON), &want); err != nil {
		t.Fatalf("decode want: %v", err)
	}
	if got := blocksOf(t, manifestData); !reflect.DeepEqual(want, got) {
		t.Fatalf("unexpected manifest blocks:\nwant %v\ngot  %v", want, got)
	}
}

func TestRepublishSkipsFolderCreation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.pub.Publish(ctx, "1001"); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	h.srv.ResetRequests()

	res, err := h.pub.Run(ctx, "1001")
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if res.CreatedFolder {
		t.Fatal("expected existing folder to be reused")
	}
	for _, req := range h.boxRequests() {
		if strings.HasPrefix(req, "MKCOL") {
			t.Fatalf("unexpected %s on republish", req)
		}
	}
}

func TestPublishMissingImageIsCorruption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := models.LocalImageKey("img-gone00")
	if err := h.drafts.UpdateDraft(ctx, models.Draft{Blocks: []models.Block{
		models.NewBlock(models.ImageData{File: models.ImageFile{Key: &key}}),
	}}); err != nil {
		t.Fatalf("update draft: %v", err)
	}

	_, err := h.pub.Publish(ctx, "4004")
	if !errors.Is(err, apperr.ErrLocalStoreCorruption) {
		t.Fatalf("expected local store corruption, got %v", err)
	}
	for _, req := range h.boxRequests() {
		if strings.HasSuffix(req, "content.json") {
			t.Fatal("manifest must not be uploaded after a failed image")
		}
	}
}

func TestPublishAbortsOnRemoteFailure(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		notReached string
	}{
		{"probe", "PROPFIND", "5005", "MKCOL 5005"},
		{"mkcol", "MKCOL", "5005", "MKCOL 5005/images"},
		{"manifest", "PUT", "5005/content.json", "GET __template/index.html"},
		{"template", "GET", "__template/index.html", "PUT 5005/index.html"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.srv.Fail(tc.method, tc.path, http.StatusInternalServerError)

			_, err := h.pub.Publish(context.Background(), "5005")
			if !errors.Is(err, apperr.ErrRemoteStore) {
				t.Fatalf("expected remote store failure, got %v", err)
			}
			if apperr.StatusOf(err) != http.StatusInternalServerError {
				t.Fatalf("expected status 500 on error, got %d", apperr.StatusOf(err))
			}
			for _, req := range h.boxRequests() {
				if req == tc.notReached {
					t.Fatalf("%s issued after failure", req)
				}
			}
		})
	}
}

func TestValidateArticleID(t *testing.T) {
	for _, id := range []string{"1001", "my-post", "2024_01"} {
		if err := ValidateArticleID(id); err != nil {
			t.Fatalf("%q rejected: %v", id, err)
		}
	}
	for _, id := range []string{"", "  ", " a", "a/b", "..", "__template", "a?b"} {
		if err := ValidateArticleID(id); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("%q: expected invalid argument, got %v", id, err)
		}
	}
}

func TestNewRequiresBoxURLSlash(t *testing.T) {
	if _, err := New(&blockingRemote{}, &staticDrafts{}, Options{BoxURL: "https://cell.example/me/blog"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestImageExtension(t *testing.T) {
	tests := []struct {
		mediaType, filename, want string
	}{
		{"image/png", "x.bin", ".png"},
		{"image/jpeg", "photo.JPEG", ".jpg"},
		{"image/svg+xml", "", ".svg"},
		{"application/octet-stream", "scan.TIFF", ".tiff"},
		{"", "noext", ""},
	}
	for _, tc := range tests {
		got := imageExtension(models.LocalImage{MediaType: tc.mediaType, Filename: tc.filename})
		if got != tc.want {
			t.Fatalf("%s/%s: expected %q, got %q", tc.mediaType, tc.filename, tc.want, got)
		}
	}
}

type blockingRemote struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRemote) Exists(ctx context.Context, p string) (bool, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return true, nil
}

func (r *blockingRemote) CreateCollection(context.Context, string) error { return nil }

func (r *blockingRemote) PutFile(_ context.Context, _ string, body io.Reader, _ string) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func (r *blockingRemote) GetFile(context.Context, string) (webdav.Blob, error) {
	return webdav.Blob{Data: []byte(templateHTML)}, nil
}

type staticDrafts struct{}

func (staticDrafts) CurrentDraft(context.Context) (models.Draft, bool, error) {
	return models.Draft{}, false, nil
}

func (staticDrafts) GetImage(_ context.Context, key models.LocalImageKey) (models.LocalImage, io.ReadCloser, error) {
	return models.LocalImage{}, nil, apperr.New(apperr.CodeNotFound, "image "+string(key)+" not found")
}

func TestPublishRejectsConcurrentRun(t *testing.T) {
	remote := &blockingRemote{entered: make(chan struct{}), release: make(chan struct{})}
	pub, err := New(remote, staticDrafts{}, Options{BoxURL: "https://cell.example/me/blog/"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := pub.Publish(context.Background(), "1001")
		done <- err
	}()
	<-remote.entered

	if _, err := pub.Publish(context.Background(), "1002"); !errors.Is(err, apperr.ErrPublishInProgress) {
		t.Fatalf("expected publish in progress, got %v", err)
	}

	close(remote.release)
	if err := <-done; err != nil {
		t.Fatalf("first publish: %v", err)
	}

	remote.release = make(chan struct{})
	close(remote.release)
	if _, err := pub.Publish(context.Background(), "1003"); err != nil {
		t.Fatalf("publish after release: %v", err)
	}
}
