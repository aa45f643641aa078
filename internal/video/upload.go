package video

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipbin/clipbin/internal/auth"
	"github.com/clipbin/clipbin/internal/httputil"
)

var allowedUploads = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

// secureFilename builds the storage key for an upload: the client-supplied
// base stripped to safe characters, a random suffix against collisions, and
// the original extension.
func secureFilename(original string) (string, error) {
	ext := strings.ToLower(filepath.Ext(original))
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))

	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		cleaned = "upload"
	}
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate filename suffix: %w", err)
	}
	return fmt.Sprintf("%s_%s%s", cleaned, hex.EncodeToString(suffix), ext), nil
}

// Upload ingests a new video: quota check, type validation before the body
// is accepted, staging spool, backend write, probe, catalog insert. A blob
// already written to the backend is rolled back when inspection or the
// insert fails.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountIDFromContext(r.Context())

	var count int
	if err := h.db.QueryRow(r.Context(),
		"SELECT COUNT(*) FROM videos WHERE account_id = $1 AND derivative = false",
		accountID,
	).Scan(&count); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to check upload quota")
		return
	}
	if count >= MaxVideosPerAccount {
		// The original service reports the quota as 401.
		httputil.WriteError(w, http.StatusUnauthorized, fmt.Sprintf("reached %d files limit", MaxVideosPerAccount))
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "multipart form expected")
		return
	}

	var part *multipartFilePart
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "malformed upload")
			return
		}
		if p.FormName() == "video" && p.FileName() != "" {
			part = &multipartFilePart{reader: p, filename: p.FileName(), contentType: p.Header.Get("Content-Type")}
			break
		}
		_ = p.Close()
	}
	if part == nil {
		httputil.WriteError(w, http.StatusBadRequest, "file is missing")
		return
	}

	ext := strings.ToLower(filepath.Ext(part.filename))
	wantType, ok := allowedUploads[ext]
	if !ok || part.contentType != wantType {
		httputil.WriteError(w, http.StatusBadRequest, "wrong type of file")
		return
	}

	key, err := secureFilename(part.filename)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to name upload")
		return
	}

	staging, err := os.CreateTemp("", "clipbin-upload-*"+ext)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}
	stagingPath := staging.Name()
	defer func() { _ = os.Remove(stagingPath) }()

	if _, err := io.Copy(staging, part.reader); err != nil {
		_ = staging.Close()
		httputil.WriteError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if err := staging.Close(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}

	if err := h.storage.UploadFile(r.Context(), key, stagingPath, wantType); err != nil {
		slog.Error("upload: backend write failed", "key", key, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while processing file")
		return
	}

	info, err := h.inspector.Inspect(r.Context(), stagingPath)
	if err != nil {
		slog.Error("upload: inspection failed", "key", key, "error", err)
		h.rollbackBlob(r.Context(), key)
		httputil.WriteError(w, http.StatusInternalServerError, "error while processing file")
		return
	}

	var rec Record
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO videos (filename, created_at, duration, size, derivative, account_id)
		 VALUES ($1, now(), $2, $3, false, $4)
		 RETURNING id, filename, created_at, duration, size, derivative`,
		key, info.DurationSeconds, info.SizeBytes, accountID,
	).Scan(&rec.ID, &rec.Filename, &rec.CreatedAt, &rec.Duration, &rec.Size, &rec.Derivative)
	if err != nil {
		slog.Error("upload: catalog insert failed", "key", key, "error", err)
		h.rollbackBlob(r.Context(), key)
		httputil.WriteError(w, http.StatusInternalServerError, "error while processing file")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// rollbackBlob is the compensating action for the blob-then-catalog write
// sequence; best-effort, a failure here is only logged.
func (h *Handler) rollbackBlob(ctx context.Context, key string) {
	if err := h.storage.Delete(ctx, key); err != nil {
		slog.Error("upload: blob rollback failed", "key", key, "error", err)
	}
}

type multipartFilePart struct {
	reader      io.ReadCloser
	filename    string
	contentType string
}
