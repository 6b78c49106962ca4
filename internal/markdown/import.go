// Package markdown turns a markdown file into draft blocks.
package markdown

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"gopkg.in/yaml.v3"

	"draftcell/internal/apperr"
	"draftcell/internal/models"
)

// ImageStore keeps image bytes referenced by the document.
type ImageStore interface {
	StoreImage(ctx context.Context, r io.Reader, filename, mediaType string) (models.LocalImage, string, error)
}

// Options configures Import.
type Options struct {
	// BaseDir resolves relative image paths.
	BaseDir string
	// Images stores local images. Without it a local image is an error.
	Images ImageStore
}

// Document is an imported markdown file.
type Document struct {
	FrontMatter  map[string]any `json:"front_matter,omitempty"`
	Draft        models.Draft   `json:"draft"`
	ImagesStored int            `json:"images_stored"`
}

// Import converts src. A front matter title becomes a leading level 1 header.
func Import(ctx context.Context, src []byte, opts Options) (Document, error) {
	frontMatter, body, err := SplitFrontMatter(string(src))
	if err != nil {
		return Document{}, err
	}

	c := &converter{
		ctx:  ctx,
		opts: opts,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		src: []byte(body),
	}

	blocks := []models.Block{}
	if title, ok := frontMatter["title"].(string); ok && strings.TrimSpace(title) != "" {
		blocks = append(blocks, models.NewBlock(models.HeaderData{
			Text:  string(util.EscapeHTML([]byte(strings.TrimSpace(title)))),
			Level: 1,
		}))
	}

	doc := c.md.Parser().Parse(text.NewReader(c.src))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		out, err := c.block(n)
		if err != nil {
			return Document{}, err
		}
		blocks = append(blocks, out...)
	}

	return Document{
		FrontMatter:  frontMatter,
		Draft:        models.Draft{Blocks: blocks},
		ImagesStored: c.stored,
	}, nil
}

// SplitFrontMatter separates a leading "---" delimited YAML block from the
// markdown body.
func SplitFrontMatter(input string) (map[string]any, string, error) {
	frontMatter := map[string]any{}
	input = strings.ReplaceAll(input, "\r\n", "\n")

	lines := strings.Split(input, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "---" {
		return frontMatter, input, nil
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, "", apperr.New(apperr.CodeInvalidArgument, "front matter not closed")
	}
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &frontMatter); err != nil {
		return nil, "", apperr.Wrap(apperr.CodeInvalidArgument, "invalid front matter", err)
	}
	if frontMatter == nil {
		frontMatter = map[string]any{}
	}
	return frontMatter, strings.Join(lines[end+1:], "\n"), nil
}

type converter struct {
	ctx    context.Context
	opts   Options
	md     goldmark.Markdown
	src    []byte
	stored int
}

func one(data models.BlockData) ([]models.Block, error) {
	return []models.Block{models.NewBlock(data)}, nil
}

func (c *converter) block(n ast.Node) ([]models.Block, error) {
	switch n := n.(type) {
	case *ast.Heading:
		return one(models.HeaderData{Text: c.inline(n), Level: min(max(n.Level, 1), 6)})
	case *ast.Paragraph, *ast.TextBlock:
		if img, ok := soleImage(n); ok {
			data, err := c.image(img)
			if err != nil {
				return nil, err
			}
			return one(data)
		}
		content := c.inline(n)
		if content == "" {
			return nil, nil
		}
		return one(models.ParagraphData{Text: content})
	case *ast.List:
		style := "unordered"
		if n.IsOrdered() {
			style = "ordered"
		}
		return one(models.ListData{Style: style, Items: c.listItems(n, []string{})})
	case *ast.ThematicBreak:
		return one(models.DelimiterData{})
	case *ast.Blockquote:
		var parts []string
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			if s := c.inline(child); s != "" {
				parts = append(parts, s)
			}
		}
		return one(models.QuoteData{Text: strings.Join(parts, "<br>"), Alignment: "left"})
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		payload, err := json.Marshal(map[string]string{"code": strings.TrimSuffix(c.lines(n), "\n")})
		if err != nil {
			return nil, err
		}
		return one(models.RawData{Type: "code", Payload: payload})
	case *ast.HTMLBlock:
		raw := c.lines(n)
		if n.HasClosure() {
			raw += string(n.ClosureLine.Value(c.src))
		}
		if raw = strings.TrimSpace(raw); raw == "" {
			return nil, nil
		}
		return one(models.ParagraphData{Text: raw})
	case *east.Table:
		return c.table(n)
	}
	return nil, nil
}

// inline renders the inline children of n as HTML.
func (c *converter) inline(n ast.Node) string {
	var buf bytes.Buffer
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		_ = c.md.Renderer().Render(&buf, c.src, child)
	}
	return strings.TrimSpace(buf.String())
}

func (c *converter) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(c.src))
	}
	return b.String()
}

// listItems flattens nested lists into one item list.
func (c *converter) listItems(list *ast.List, items []string) []string {
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		var parts []string
		var nested []*ast.List
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			if sub, ok := child.(*ast.List); ok {
				nested = append(nested, sub)
				continue
			}
			if s := c.inline(child); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			items = append(items, strings.Join(parts, "<br>"))
		}
		for _, sub := range nested {
			items = c.listItems(sub, items)
		}
	}
	return items
}

func (c *converter) table(t *east.Table) ([]models.Block, error) {
	content := [][]string{}
	withHeadings := false
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		if _, ok := row.(*east.TableHeader); ok {
			withHeadings = true
		}
		cells := []string{}
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, c.inline(cell))
		}
		content = append(content, cells)
	}
	payload, err := json.Marshal(struct {
		WithHeadings bool       `json:"withHeadings"`
		Content      [][]string `json:"content"`
	}{withHeadings, content})
	if err != nil {
		return nil, err
	}
	return one(models.RawData{Type: "table", Payload: payload})
}

func soleImage(n ast.Node) (*ast.Image, bool) {
	if n.ChildCount() != 1 {
		return nil, false
	}
	img, ok := n.FirstChild().(*ast.Image)
	return img, ok
}

func plainText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func isRemote(dest string) bool {
	lower := strings.ToLower(dest)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:")
}

// image keeps remote URLs as they are and stores local files.
func (c *converter) image(img *ast.Image) (models.ImageData, error) {
	dest := strings.TrimSpace(string(img.Destination))
	data := models.ImageData{Caption: plainText(img, c.src)}
	if isRemote(dest) {
		data.File = models.ImageFile{URL: dest}
		return data, nil
	}
	if c.opts.Images == nil {
		return models.ImageData{}, apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("local image %s needs an image store", dest))
	}

	p := strings.TrimPrefix(dest, "file://")
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.opts.BaseDir, p)
	}
	f, err := os.Open(p)
	if err != nil {
		return models.ImageData{}, apperr.Wrap(apperr.CodeInvalidArgument, "open image "+dest, err)
	}
	defer f.Close()

	stored, handle, err := c.opts.Images.StoreImage(c.ctx, f, filepath.Base(p), "")
	if err != nil {
		return models.ImageData{}, fmt.Errorf("store image %s: %w", dest, err)
	}
	c.stored++
	key := stored.Key
	data.File = models.ImageFile{URL: handle, Key: &key}
	return data, nil
}
