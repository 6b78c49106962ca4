package draft

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const defaultMediaType = "application/octet-stream"

// resolveMediaType picks the stored media type of an image: the declared type,
// then a sniffed image type, then the filename extension, then whatever the
// sniffer reported.
func resolveMediaType(declared, filename string, head []byte) string {
	if mt := normalizeMediaType(declared); mt != "" {
		return mt
	}
	sniffed := ""
	if len(head) > 0 {
		sniffed = normalizeMediaType(http.DetectContentType(head))
	}
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if mt := normalizeMediaType(mime.TypeByExtension(ext)); mt != "" {
			return mt
		}
	}
	if sniffed != "" {
		return sniffed
	}
	return defaultMediaType
}

func normalizeMediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed)
}
