package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"draftcell/internal/apperr"
	"draftcell/internal/box"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var installErr *box.InstallError
	if errors.As(err, &installErr) {
		for _, entry := range installErr.Log {
			lines = append(lines, "  "+formatTime(entry.Time)+" "+entry.Text)
		}
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperr.CodeNotAuthorized:
			lines = append(lines, "hint: run `draftcell login` to authorize against your cell.")
		case apperr.CodeConflict:
			lines = append(lines, "hint: another publish is still running; wait for it to finish.")
		case apperr.CodeLocalStoreCorruption:
			lines = append(lines, "hint: the local draft references missing image data; re-add the image or run `draftcell draft reset`.")
		case apperr.CodeTimeout:
			lines = append(lines, "hint: the cell did not answer in time; retry or increase install.timeout / DRAFTCELL_HTTP_TIMEOUT.")
		}
		switch {
		case appErr.Status == http.StatusUnauthorized || appErr.Status == http.StatusForbidden:
			lines = append(lines, "hint: your access token was rejected; run `draftcell login` again.")
		case appErr.Status >= 500:
			lines = append(lines, "hint: the cell returned an internal error; retry later.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check the cell or increase DRAFTCELL_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: check that cell_url and app_cell_url point to a reachable cell.",
			"hint: you can increase DRAFTCELL_HTTP_TIMEOUT for slower networks.",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
