package video

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/clipbin/clipbin/internal/auth"
	"github.com/clipbin/clipbin/internal/transcode"
)

func editRequestFor(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPatch, "/edit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(auth.ContextWithAccountID(req.Context(), "acct-1"))
}

func expectOwnedLookup(mock pgxmock.PgxPoolIface, id int64, filename string, duration float64) {
	mock.ExpectQuery(`SELECT filename, duration FROM videos WHERE id = \$1 AND account_id = \$2`).
		WithArgs(id, "acct-1").
		WillReturnRows(pgxmock.NewRows([]string{"filename", "duration"}).AddRow(filename, &duration))
}

func TestEdit_RejectsEmptyRequest(t *testing.T) {
	h := NewHandler(nil, newMockStorage(), &mockTranscoder{}, &mockInspector{}, 0)

	rec := httptest.NewRecorder()
	h.Edit(rec, editRequestFor(t, `{"id": 3}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestEdit_UnknownVideoIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT filename, duration FROM videos WHERE id = \$1 AND account_id = \$2`).
		WithArgs(int64(3), "acct-1").
		WillReturnError(errNoRows)

	h := NewHandler(mock, newMockStorage(), &mockTranscoder{}, &mockInspector{}, 0)

	rec := httptest.NewRecorder()
	h.Edit(rec, editRequestFor(t, `{"id": 3, "compressTo": 8}`))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEdit_MapsValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid trim range", transcode.ErrInvalidTimeRange, http.StatusBadRequest},
		{"trim removes everything", transcode.ErrInvalidDuration, http.StatusBadRequest},
		{"invalid target size", transcode.ErrInvalidTargetSize, http.StatusBadRequest},
		{"target too small", transcode.ErrBitrateTooLow, http.StatusBadRequest},
		{"gif compression", transcode.ErrUnsupportedFormat, http.StatusBadRequest},
		{"all workers busy", transcode.ErrServerBusy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatal(err)
			}
			defer mock.Close()

			expectOwnedLookup(mock, 3, "clip_ab12cd34.mp4", 20)

			store := newMockStorage()
			store.objects["clip_ab12cd34.mp4"] = []byte("data")
			h := NewHandler(mock, store, &mockTranscoder{editErr: tt.err}, &mockInspector{}, 0)

			rec := httptest.NewRecorder()
			h.Edit(rec, editRequestFor(t, `{"id": 3, "compressTo": 8}`))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestEdit_ReplacesBlobAndRefreshesMetadata(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	newDur := 17.5
	newSize := int64(11)
	now := time.Now()

	expectOwnedLookup(mock, 3, "clip_ab12cd34.mp4", 20)
	mock.ExpectQuery(`UPDATE videos SET duration = \$1, size = \$2 WHERE id = \$3`).
		WithArgs(newDur, newSize, int64(3)).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "filename", "created_at", "duration", "size", "derivative"},
		).AddRow(int64(3), "clip_ab12cd34.mp4", now, &newDur, &newSize, false))

	store := newMockStorage()
	store.objects["clip_ab12cd34.mp4"] = []byte("data")
	insp := &mockInspector{info: mediaInfo(newDur, newSize)}
	h := NewHandler(mock, store, &mockTranscoder{}, insp, 0)

	rec := httptest.NewRecorder()
	h.Edit(rec, editRequestFor(t, `{"id": 3, "startTime": 2, "endTime": 4.5}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Duration == nil || *got.Duration != newDur {
		t.Errorf("duration = %v, want %v", got.Duration, newDur)
	}

	if string(store.objects["clip_ab12cd34.mp4"]) != "data edited" {
		t.Errorf("blob = %q, want re-encoded bytes", store.objects["clip_ab12cd34.mp4"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
