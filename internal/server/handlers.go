package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"draftcell/internal/apperr"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	draft, err := s.drafts.LoadDraft(r.Context())
	if err != nil {
		s.writeErrorReq(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := renderPage(w, draft); err != nil {
		s.log().Error("render preview", "error", err)
	}
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	draft, err := s.drafts.LoadDraft(r.Context())
	if err != nil {
		s.writeErrorReq(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	s.writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	key, ok := s.handles.Resolve(handle)
	if !ok {
		s.writeErrorReq(w, r, apperr.New(apperr.CodeNotFound, "unknown image handle"))
		return
	}
	meta, rc, err := s.drafts.GetImage(r.Context(), key)
	if err != nil {
		s.writeErrorReq(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.MediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.SizeBytes, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.log().Warn("stream image", "key", key, "error", err)
	}
}

func (s *Server) writeErrorReq(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	status := statusFromError(err)
	code := string(apperr.CodeOf(err))
	if code == "" {
		code = "internal"
	}
	message := err.Error()

	fields := []any{"status", status, "code", code, "error", err, "method", r.Method, "path", r.URL.Path}
	switch {
	case status >= 500:
		s.log().Error("request error", fields...)
		message = "internal error"
	case shouldWarnClientError(status):
		s.log().Warn("request rejected", fields...)
	default:
		s.log().Debug("request rejected", fields...)
	}

	s.writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("write json response", "status", status, "error", err)
	}
}

func statusFromError(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodeNotAuthorized:
		return http.StatusUnauthorized
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeRemoteStore:
		return http.StatusBadGateway
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func shouldWarnClientError(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict:
		return true
	default:
		return false
	}
}
