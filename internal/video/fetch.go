package video

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clipbin/clipbin/internal/auth"
	"github.com/clipbin/clipbin/internal/httputil"
	"github.com/clipbin/clipbin/internal/storage"
	"github.com/clipbin/clipbin/internal/transcode"
)

// Fetch streams a stored video as-is. The route is unauthenticated; knowing
// the randomized filename is the capability to read it.
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if err := storage.CleanKey(filename); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	var id int64
	err := h.db.QueryRow(r.Context(),
		"SELECT id FROM videos WHERE filename = $1", filename,
	).Scan(&id)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	body, size, contentType, err := h.storage.Get(r.Context(), filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
		slog.Error("fetch: backend read failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while reading file")
		return
	}
	defer body.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		// Headers are gone; nothing to report to the client.
		slog.Debug("fetch: stream interrupted", "filename", filename, "error", err)
	}
}

// Download serves a video in the requested container. When the target
// matches the stored format the blob is streamed directly as an attachment;
// otherwise it is converted on the fly and the encoder output is spliced
// into the response as it is produced. Unlike Fetch, the route requires an
// identity and only serves the caller's own videos.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	targetExt := chi.URLParam(r, "extension")
	filename := chi.URLParam(r, "filename")
	if err := storage.CleanKey(filename); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if !transcode.SupportedTarget(targetExt) {
		httputil.WriteError(w, http.StatusBadRequest, "unsupported target format")
		return
	}

	accountID := auth.AccountIDFromContext(r.Context())

	var id int64
	err := h.db.QueryRow(r.Context(),
		"SELECT id FROM videos WHERE filename = $1 AND account_id = $2",
		filename, accountID,
	).Scan(&id)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	sourceExt := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	outName := base + normalizedTarget(targetExt)

	if sourceExt == normalizedTarget(targetExt) {
		body, size, contentType, err := h.storage.Get(r.Context(), filename)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httputil.WriteError(w, http.StatusNotFound, "video not found")
				return
			}
			slog.Error("download: backend read failed", "filename", filename, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "error while reading file")
			return
		}
		defer body.Close()

		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		if size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outName))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, body)
		return
	}

	staging, err := os.CreateTemp("", "clipbin-convert-*"+sourceExt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to stage conversion")
		return
	}
	stagingPath := staging.Name()
	_ = staging.Close()
	defer func() { _ = os.Remove(stagingPath) }()

	if err := h.storage.DownloadToFile(r.Context(), filename, stagingPath); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
		slog.Error("download: staging failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while reading file")
		return
	}

	stream, err := h.transcoder.Convert(r.Context(), stagingPath, targetExt)
	if err != nil {
		switch {
		case errors.Is(err, transcode.ErrUnsupportedFormat):
			httputil.WriteError(w, http.StatusBadRequest, "unsupported target format")
		case errors.Is(err, transcode.ErrServerBusy):
			httputil.WriteError(w, http.StatusServiceUnavailable, "server busy, try again later")
		default:
			slog.Error("download: conversion failed to start", "filename", filename, "target", targetExt, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "error while converting file")
		}
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", transcode.ContentTypeForExtension(targetExt))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outName))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, stream); err != nil {
		// Mid-stream failure: status already sent, the encoder is torn
		// down by the deferred Close.
		slog.Warn("download: conversion stream interrupted", "filename", filename, "target", targetExt, "error", err)
	}
}

func normalizedTarget(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
