package video

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/clipbin/clipbin/internal/auth"
)

func deleteRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Delete("/delete/{id}", h.Delete)
	return r
}

func TestDelete_RemovesBlobAndRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT filename FROM videos WHERE id = \$1 AND account_id = \$2`).
		WithArgs(int64(7), "acct-1").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("clip_ab12cd34.mp4"))
	mock.ExpectExec(`DELETE FROM videos WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	store := newMockStorage()
	store.objects["clip_ab12cd34.mp4"] = []byte("data")
	h := NewHandler(mock, store, &mockTranscoder{}, &mockInspector{}, 0)

	req := httptest.NewRequest(http.MethodDelete, "/delete/7", nil)
	req = req.WithContext(auth.ContextWithAccountID(req.Context(), "acct-1"))
	rec := httptest.NewRecorder()
	deleteRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := store.objects["clip_ab12cd34.mp4"]; ok {
		t.Error("blob still present after delete")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDelete_MissingBlobStillRemovesRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT filename FROM videos WHERE id = \$1 AND account_id = \$2`).
		WithArgs(int64(7), "acct-1").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("clip_ab12cd34.mp4"))
	mock.ExpectExec(`DELETE FROM videos WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	h := NewHandler(mock, newMockStorage(), &mockTranscoder{}, &mockInspector{}, 0)

	req := httptest.NewRequest(http.MethodDelete, "/delete/7", nil)
	req = req.WithContext(auth.ContextWithAccountID(req.Context(), "acct-1"))
	rec := httptest.NewRecorder()
	deleteRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDelete_UnknownIDIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT filename FROM videos WHERE id = \$1 AND account_id = \$2`).
		WithArgs(int64(7), "acct-1").
		WillReturnError(errNoRows)

	h := NewHandler(mock, newMockStorage(), &mockTranscoder{}, &mockInspector{}, 0)

	req := httptest.NewRequest(http.MethodDelete, "/delete/7", nil)
	req = req.WithContext(auth.ContextWithAccountID(req.Context(), "acct-1"))
	rec := httptest.NewRecorder()
	deleteRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDelete_InvalidIDIsBadRequest(t *testing.T) {
	h := NewHandler(nil, newMockStorage(), &mockTranscoder{}, &mockInspector{}, 0)

	req := httptest.NewRequest(http.MethodDelete, "/delete/abc", nil)
	req = req.WithContext(auth.ContextWithAccountID(req.Context(), "acct-1"))
	rec := httptest.NewRecorder()
	deleteRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
