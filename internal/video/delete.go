package video

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clipbin/clipbin/internal/auth"
	"github.com/clipbin/clipbin/internal/httputil"
	"github.com/clipbin/clipbin/internal/storage"
)

// Delete removes a video's blob and catalog row. The blob goes first; a
// blob that is already gone is treated as deleted, so a crashed earlier
// attempt can be completed by retrying. Once the row is gone the id
// resolves to nothing and a repeat delete is a 404.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	accountID := auth.AccountIDFromContext(r.Context())

	var filename string
	if accountID != "" {
		err = h.db.QueryRow(r.Context(),
			"SELECT filename FROM videos WHERE id = $1 AND account_id = $2",
			id, accountID,
		).Scan(&filename)
	} else {
		err = h.db.QueryRow(r.Context(),
			"SELECT filename FROM videos WHERE id = $1",
			id,
		).Scan(&filename)
	}
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	if err := h.storage.Delete(r.Context(), filename); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Error("delete: backend delete failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while deleting file")
		return
	}

	if _, err := h.db.Exec(r.Context(), "DELETE FROM videos WHERE id = $1", id); err != nil {
		slog.Error("delete: catalog delete failed", "filename", filename, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "error while deleting file")
		return
	}

	httputil.WriteMessage(w, http.StatusOK, "video deleted")
}
