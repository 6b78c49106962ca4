package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Rendered draft and its editor JSON.
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /content.json", s.handleContent)

	// Image handles.
	mux.HandleFunc("GET "+BlobPath+"{handle}", s.handleBlob)

	return mux
}
