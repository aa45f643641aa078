package video

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipbin/clipbin/internal/auth"
	"github.com/clipbin/clipbin/internal/httputil"
	"github.com/clipbin/clipbin/internal/storage"
	"github.com/clipbin/clipbin/internal/transcode"
)

type editRequest struct {
	ID         int64               `json:"id"`
	StartTime  *float64            `json:"startTime"`
	EndTime    *float64            `json:"endTime"`
	Crop       *transcode.CropRect `json:"crop"`
	CompressTo *float64            `json:"compressTo"`
}

// Edit re-encodes a stored video in place, applying any combination of
// segment removal, crop and target-size compression, then refreshes the
// catalog metadata from the result. The original blob is only replaced
// after the re-encode succeeds.
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ID <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.StartTime == nil && req.EndTime == nil && req.Crop == nil && req.CompressTo == nil {
		httputil.WriteError(w, http.StatusBadRequest, "no edit operation requested")
		return
	}

	filename, duration, ok := h.lookupOwned(w, r, req.ID)
	if !ok {
		return
	}
	if duration == nil {
		httputil.WriteError(w, http.StatusInternalServerError, "video duration unknown")
		return
	}

	ext := strings.ToLower(filepath.Ext(filename))

	input, err := os.CreateTemp("", "clipbin-edit-in-*"+ext)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to stage edit")
		return
	}
	inputPath := input.Name()
	_ = input.Close()
	defer func() { _ = os.Remove(inputPath) }()

	output, err := os.CreateTemp("", "clipbin-edit-out-*"+ext)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to stage edit")
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
		slog.Error("edit: staging failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while editing file")
		return
	}

	opts := transcode.Options{
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Crop:         req.Crop,
		CompressToMB: req.CompressTo,
	}
	if err := h.transcoder.Edit(r.Context(), opts, *duration, inputPath, outputPath); err != nil {
		writeEditError(w, filename, err)
		return
	}

	info, err := h.inspector.Inspect(r.Context(), outputPath)
	if err != nil {
		slog.Error("edit: inspection of result failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while editing file")
		return
	}

	contentType := transcode.ContentTypeForExtension(ext)
	if err := h.storage.UploadFile(r.Context(), filename, outputPath, contentType); err != nil {
		slog.Error("edit: backend write failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while editing file")
		return
	}

	var rec Record
	err = h.db.QueryRow(r.Context(),
		`UPDATE videos SET duration = $1, size = $2 WHERE id = $3
		 RETURNING id, filename, created_at, duration, size, derivative`,
		info.DurationSeconds, info.SizeBytes, req.ID,
	).Scan(&rec.ID, &rec.Filename, &rec.CreatedAt, &rec.Duration, &rec.Size, &rec.Derivative)
	if err != nil {
		// The blob is already replaced; stale metadata is recoverable on
		// the next edit, so report the failure but do not roll back.
		slog.Error("edit: catalog update failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while editing file")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, rec)
}

// lookupOwned resolves a video row by id. When the request carries an
// account identity the lookup is scoped to it, so accounts cannot touch
// each other's videos; routes mounted without the identity gate see every
// row.
func (h *Handler) lookupOwned(w http.ResponseWriter, r *http.Request, id int64) (string, *float64, bool) {
	accountID := auth.AccountIDFromContext(r.Context())

	var (
		filename string
		duration *float64
		err      error
	)
	if accountID != "" {
		err = h.db.QueryRow(r.Context(),
			"SELECT filename, duration FROM videos WHERE id = $1 AND account_id = $2",
			id, accountID,
		).Scan(&filename, &duration)
	} else {
		err = h.db.QueryRow(r.Context(),
			"SELECT filename, duration FROM videos WHERE id = $1",
			id,
		).Scan(&filename, &duration)
	}
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return "", nil, false
	}
	return filename, duration, true
}

func writeEditError(w http.ResponseWriter, filename string, err error) {
	switch {
	case errors.Is(err, transcode.ErrInvalidTimeRange):
		httputil.WriteError(w, http.StatusBadRequest, "invalid trim range")
	case errors.Is(err, transcode.ErrInvalidDuration):
		httputil.WriteError(w, http.StatusBadRequest, "trim would remove the whole video")
	case errors.Is(err, transcode.ErrInvalidTargetSize):
		httputil.WriteError(w, http.StatusBadRequest, "invalid target size")
	case errors.Is(err, transcode.ErrBitrateTooLow):
		httputil.WriteError(w, http.StatusBadRequest, "target size too small for video duration")
	case errors.Is(err, transcode.ErrUnsupportedFormat):
		httputil.WriteError(w, http.StatusBadRequest, "format does not support this edit")
	case errors.Is(err, transcode.ErrServerBusy):
		httputil.WriteError(w, http.StatusServiceUnavailable, "server busy, try again later")
	default:
		slog.Error("edit: re-encode failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while editing file")
	}
}
