package video

import (
	"net/http"

	"github.com/clipbin/clipbin/internal/auth"
	"github.com/clipbin/clipbin/internal/httputil"
)

// List returns the account's videos, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT id, filename, created_at, duration, size, derivative
		 FROM videos WHERE account_id = $1
		 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.CreatedAt, &rec.Duration, &rec.Size, &rec.Derivative); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to read videos")
			return
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to read videos")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, records)
}
