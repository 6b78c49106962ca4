package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"draftcell/internal/format"
	"draftcell/internal/models"
)

var (
	outputWriter    io.Writer        = os.Stdout
	outputFormatter format.Formatter = format.JSONFormatter{}
)

func writeJSON(payload any) error {
	return outputFormatter.Write(outputWriter, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(outputWriter, format, args...)
	return err
}

func writeImageList(images []models.LocalImage, now time.Time) error {
	if len(images) == 0 {
		return writePlain("no images\n")
	}
	for _, image := range images {
		name := image.Filename
		if name == "" {
			name = "-"
		}
		line := fmt.Sprintf("%s  %s  %s  %s  %s",
			image.Key, name, image.MediaType,
			humanize.Bytes(uint64(max(image.SizeBytes, 0))),
			humanize.RelTime(image.CreatedAt, now, "ago", "from now"))
		if err := writePlain("%s\n", line); err != nil {
			return err
		}
	}
	return nil
}

func writeDraftSummary(draft models.Draft, persisted bool) error {
	lines := []string{}
	if !persisted {
		lines = append(lines, "(no saved draft; showing the welcome draft)")
	} else if draft.Time > 0 {
		saved := time.UnixMilli(draft.Time)
		lines = append(lines, fmt.Sprintf("saved: %s (%s)", formatTime(saved), humanize.Time(saved)))
	}
	if draft.Version != "" {
		lines = append(lines, fmt.Sprintf("version: %s", draft.Version))
	}
	lines = append(lines, fmt.Sprintf("blocks: %d", len(draft.Blocks)))
	for i, block := range draft.Blocks {
		lines = append(lines, fmt.Sprintf("%3d. %-10s %s", i+1, block.Type(), blockPreview(block)))
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func blockPreview(block models.Block) string {
	var text string
	switch d := block.Data.(type) {
	case models.HeaderData:
		text = fmt.Sprintf("h%d %s", d.Level, d.Text)
	case models.ParagraphData:
		text = d.Text
	case models.ListData:
		text = fmt.Sprintf("%s, %d items", d.Style, len(d.Items))
	case models.ImageData:
		if d.IsLocal() {
			text = "local " + d.File.Key.String()
		} else {
			text = d.File.URL
		}
		if d.Caption != "" {
			text += " " + d.Caption
		}
	case models.MarkerData:
		text = d.Text
	case models.InlineCodeData:
		text = d.Text
	case models.WarningData:
		text = d.Title
	case models.QuoteData:
		text = d.Text
	}
	return truncate(strings.Join(strings.Fields(text), " "), 60)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
