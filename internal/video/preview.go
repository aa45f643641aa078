package video

import (
	"errors"
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

// Preview generates an animated GIF derivative for a video and catalogs it
// as its own record. Derivatives do not count against the upload quota and
// are swept together with the rest of the account's videos.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	accountID := auth.AccountIDFromContext(r.Context())

	var filename string
	err = h.db.QueryRow(r.Context(),
		"SELECT filename FROM videos WHERE id = $1 AND account_id = $2 AND derivative = false",
		id, accountID,
	).Scan(&filename)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	ext := strings.ToLower(filepath.Ext(filename))
	previewKey := strings.TrimSuffix(filename, filepath.Ext(filename)) + "_preview.gif"

	input, err := os.CreateTemp("", "clipbin-preview-in-*"+ext)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to stage preview")
		return
	}
	inputPath := input.Name()
	_ = input.Close()
	defer func() { _ = os.Remove(inputPath) }()

	output, err := os.CreateTemp("", "clipbin-preview-out-*.gif")
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to stage preview")
		return
	}
	outputPath := output.Name()
	_ = output.Close()
	defer func() { _ = os.Remove(outputPath) }()

	if err := h.storage.DownloadToFile(r.Context(), filename, inputPath); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
		slog.Error("preview: staging failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while generating preview")
		return
	}

	if err := h.transcoder.CreatePreview(r.Context(), inputPath, outputPath); err != nil {
		if errors.Is(err, transcode.ErrServerBusy) {
			httputil.WriteError(w, http.StatusServiceUnavailable, "server busy, try again later")
			return
		}
		slog.Error("preview: generation failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while generating preview")
		return
	}

	info, err := h.inspector.Inspect(r.Context(), outputPath)
	if err != nil {
		slog.Error("preview: inspection failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while generating preview")
		return
	}

	if err := h.storage.UploadFile(r.Context(), previewKey, outputPath, "image/gif"); err != nil {
		slog.Error("preview: backend write failed", "key", previewKey, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while generating preview")
		return
	}

	var rec Record
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO videos (filename, created_at, duration, size, derivative, account_id)
		 VALUES ($1, now(), $2, $3, true, $4)
		 ON CONFLICT (filename) DO UPDATE SET duration = $2, size = $3
		 RETURNING id, filename, created_at, duration, size, derivative`,
		previewKey, info.DurationSeconds, info.SizeBytes, accountID,
	).Scan(&rec.ID, &rec.Filename, &rec.CreatedAt, &rec.Duration, &rec.Size, &rec.Derivative)
	if err != nil {
		slog.Error("preview: catalog insert failed", "key", previewKey, "error", err)
		h.rollbackBlob(r.Context(), previewKey)
		httputil.WriteError(w, http.StatusInternalServerError, "error while generating preview")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, rec)
}
