package markdown

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"draftcell/internal/apperr"
	"draftcell/internal/models"
)

type fakeImages struct {
	stored []string
}

func (f *fakeImages) StoreImage(_ context.Context, r io.Reader, filename, _ string) (models.LocalImage, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.LocalImage{}, "", err
	}
	f.stored = append(f.stored, filename+":"+string(data))
	return models.LocalImage{Key: models.LocalImageKey("img-test01"), Filename: filename}, "blob:test/1", nil
}

func TestSplitFrontMatter(t *testing.T) {
	fm, body, err := SplitFrontMatter("---\ntitle: Hello\ntags: [a, b]\n---\n# Body\n")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if fm["title"] != "Hello" {
		t.Fatalf("unexpected front matter %#v", fm)
	}
	if body != "# Body\n" {
		t.Fatalf("unexpected body %q", body)
	}

	fm, body, err = SplitFrontMatter("plain text")
	if err != nil || len(fm) != 0 || body != "plain text" {
		t.Fatalf("expected passthrough, got %#v %q %v", fm, body, err)
	}

	if _, _, err := SplitFrontMatter("---\ntitle: x\n"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected unclosed front matter error, got %v", err)
	}
	if _, _, err := SplitFrontMatter("---\ntitle: [unclosed\n---\n"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid yaml error, got %v", err)
	}
}

func TestImportBlocks(t *testing.T) {
	src := `---
title: My <Post>
---
## Section

Some *emphasis* and **bold**.

- one
- two
  - nested

1. first

---

> quoted

` + "```go\nfmt.Println(1)\n```" + `

| a | b |
|---|---|
| 1 | 2 |

![remote cat](https://cdn.example/cat.png)
`
	doc, err := Import(context.Background(), []byte(src), Options{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	blocks := doc.Draft.Blocks
	wantTypes := []models.BlockType{
		models.BlockHeader, models.BlockHeader, models.BlockParagraph, models.BlockList, models.BlockList,
		models.BlockDelimiter, models.BlockQuote, "code", "table", models.BlockImage,
	}
	if len(blocks) != len(wantTypes) {
		t.Fatalf("expected %d blocks, got %d: %#v", len(wantTypes), len(blocks), blocks)
	}
	for i, want := range wantTypes {
		if blocks[i].Type() != want {
			t.Fatalf("block %d: expected %s, got %s", i, want, blocks[i].Type())
		}
	}

	if h := blocks[0].Data.(models.HeaderData); h.Level != 1 || h.Text != "My &lt;Post&gt;" {
		t.Fatalf("unexpected title block %#v", h)
	}
	if h := blocks[1].Data.(models.HeaderData); h.Level != 2 || h.Text != "Section" {
		t.Fatalf("unexpected heading %#v", h)
	}
	if p := blocks[2].Data.(models.ParagraphData); p.Text != "Some <em>emphasis</em> and <strong>bold</strong>." {
		t.Fatalf("unexpected paragraph %q", p.Text)
	}
	list := blocks[3].Data.(models.ListData)
	if list.Style != "unordered" || len(list.Items) != 3 || list.Items[2] != "nested" {
		t.Fatalf("unexpected list %#v", list)
	}
	if ordered := blocks[4].Data.(models.ListData); ordered.Style != "ordered" {
		t.Fatalf("expected ordered list, got %#v", ordered)
	}
	if q := blocks[6].Data.(models.QuoteData); q.Text != "quoted" {
		t.Fatalf("unexpected quote %#v", q)
	}

	var code struct{ Code string }
	if err := json.Unmarshal(blocks[7].Data.(models.RawData).Payload, &code); err != nil || code.Code != "fmt.Println(1)" {
		t.Fatalf("unexpected code block %s (%v)", blocks[7].Data.(models.RawData).Payload, err)
	}
	var table struct {
		WithHeadings bool
		Content      [][]string
	}
	if err := json.Unmarshal(blocks[8].Data.(models.RawData).Payload, &table); err != nil {
		t.Fatalf("decode table: %v", err)
	}
	if !table.WithHeadings || len(table.Content) != 2 || table.Content[1][1] != "2" {
		t.Fatalf("unexpected table %#v", table)
	}

	img, _ := blocks[9].Image()
	if img.IsLocal() || img.File.URL != "https://cdn.example/cat.png" || img.Caption != "remote cat" {
		t.Fatalf("unexpected remote image %#v", img)
	}
	if doc.ImagesStored != 0 {
		t.Fatalf("expected no stored images, got %d", doc.ImagesStored)
	}
}

func TestImportStoresLocalImages(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "img"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "img", "my cat.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	images := &fakeImages{}
	doc, err := Import(context.Background(), []byte("![a cat](img/my%20cat.png)\n"), Options{BaseDir: dir, Images: images})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if doc.ImagesStored != 1 || len(images.stored) != 1 || images.stored[0] != "my cat.png:png" {
		t.Fatalf("unexpected stored images %v", images.stored)
	}
	img, ok := doc.Draft.Blocks[0].Image()
	if !ok || !img.IsLocal() || *img.File.Key != "img-test01" || img.File.URL != "blob:test/1" || img.Caption != "a cat" {
		t.Fatalf("unexpected image block %#v", doc.Draft.Blocks[0])
	}
}

func TestImportLocalImageErrors(t *testing.T) {
	if _, err := Import(context.Background(), []byte("![x](x.png)\n"), Options{}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument without image store, got %v", err)
	}
	_, err := Import(context.Background(), []byte("![x](missing.png)\n"), Options{BaseDir: t.TempDir(), Images: &fakeImages{}})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing file, got %v", err)
	}
}
