package server

import (
	"fmt"
	"html"
	"html/template"
	"io"
	"regexp"
	"strings"

	"draftcell/internal/models"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 42rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; }
figure { margin: 1.5rem 0; }
figure img { max-width: 100%; }
figure.stretched img { width: 100%; }
figure.border img { border: 1px solid #ccc; }
figure.background { background: #eee; padding: 1rem; text-align: center; }
.warning { border-left: 4px solid #e0a800; padding: .5rem 1rem; }
hr.delimiter { border: 0; text-align: center; }
hr.delimiter::after { content: "***"; letter-spacing: 1rem; }
pre.raw { background: #f6f6f6; padding: .5rem; overflow: auto; }
</style>
</head>
<body>
<article>
{{range .Blocks}}{{.}}
{{end}}</article>
</body>
</html>
`))

type pageView struct {
	Title  string
	Blocks []template.HTML
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func renderPage(w io.Writer, draft models.Draft) error {
	view := pageView{Title: "draftcell preview"}
	for _, block := range draft.Blocks {
		if h, ok := block.Data.(models.HeaderData); ok && view.Title == "draftcell preview" {
			if title := strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(h.Text, ""))); title != "" {
				view.Title = title
			}
		}
		view.Blocks = append(view.Blocks, renderBlock(block))
	}
	return pageTemplate.Execute(w, view)
}

// renderBlock turns one block into HTML. Block text is editor HTML and is
// emitted as is; attributes are escaped.
func renderBlock(block models.Block) template.HTML {
	switch d := block.Data.(type) {
	case models.HeaderData:
		level := min(max(d.Level, 1), 6)
		return template.HTML(fmt.Sprintf("<h%d>%s</h%d>", level, d.Text, level))
	case models.ParagraphData:
		return template.HTML("<p>" + d.Text + "</p>")
	case models.ListData:
		tag := "ul"
		if d.Style == "ordered" {
			tag = "ol"
		}
		var b strings.Builder
		b.WriteString("<" + tag + ">")
		for _, item := range d.Items {
			b.WriteString("<li>" + item + "</li>")
		}
		b.WriteString("</" + tag + ">")
		return template.HTML(b.String())
	case models.ImageData:
		classes := []string{}
		if d.Stretched {
			classes = append(classes, "stretched")
		}
		if d.WithBorder {
			classes = append(classes, "border")
		}
		if d.WithBackground {
			classes = append(classes, "background")
		}
		out := fmt.Sprintf(`<figure class="%s"><img src="%s" alt="%s">`,
			html.EscapeString(strings.Join(classes, " ")),
			html.EscapeString(d.File.URL),
			html.EscapeString(tagPattern.ReplaceAllString(d.Caption, "")))
		if d.Caption != "" {
			out += "<figcaption>" + d.Caption + "</figcaption>"
		}
		return template.HTML(out + "</figure>")
	case models.MarkerData:
		return template.HTML("<p><mark>" + d.Text + "</mark></p>")
	case models.InlineCodeData:
		return template.HTML("<p><code>" + d.Text + "</code></p>")
	case models.DelimiterData:
		return template.HTML(`<hr class="delimiter">`)
	case models.WarningData:
		return template.HTML(`<aside class="warning"><strong>` + d.Title + `</strong> ` + d.Message + `</aside>`)
	case models.QuoteData:
		out := "<blockquote><p>" + d.Text + "</p>"
		if d.Caption != "" {
			out += "<cite>" + d.Caption + "</cite>"
		}
		return template.HTML(out + "</blockquote>")
	case models.RawData:
		return template.HTML(fmt.Sprintf(`<pre class="raw" data-type="%s">%s</pre>`,
			html.EscapeString(string(d.Type)), html.EscapeString(string(d.Payload))))
	}
	return ""
}
