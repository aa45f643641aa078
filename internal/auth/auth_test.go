package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func okHandler(t *testing.T, gotAccountID *string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotAccountID = AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestResolve_MissingFingerprintIsBadRequest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	h := NewHandler(mock, testSecret, false)
	var accountID string

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	rec := httptest.NewRecorder()
	h.Resolve(okHandler(t, &accountID)).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResolve_DeviceQuotaExceeded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts WHERE fingerprint =`).
		WithArgs("device-abc").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	h := NewHandler(mock, testSecret, false)
	var accountID string

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.AddCookie(&http.Cookie{Name: "fingerprint", Value: "device-abc"})
	rec := httptest.NewRecorder()
	h.Resolve(okHandler(t, &accountID)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResolve_CreatesAccountAndSetsSessionCookie(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts WHERE fingerprint =`).
		WithArgs("device-abc").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(pgxmock.AnyArg(), "device-abc").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	h := NewHandler(mock, testSecret, false)
	var accountID string

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.AddCookie(&http.Cookie{Name: "fingerprint", Value: "device-abc"})
	rec := httptest.NewRecorder()
	h.Resolve(okHandler(t, &accountID)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if accountID == "" {
		t.Error("expected account id in request context")
	}

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	claims, err := ValidateSessionToken(testSecret, sessionCookie.Value)
	if err != nil {
		t.Fatalf("session cookie does not validate: %v", err)
	}
	if claims.AccountID != accountID {
		t.Errorf("cookie account %q != context account %q", claims.AccountID, accountID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResolve_ValidSessionSkipsAccountCreation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	token, err := GenerateSessionToken(testSecret, "account-123")
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts WHERE id =`).
		WithArgs("account-123").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	h := NewHandler(mock, testSecret, false)
	var accountID string

	req := httptest.NewRequest(http.MethodGet, "/all", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token})
	rec := httptest.NewRecorder()
	h.Resolve(okHandler(t, &accountID)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if accountID != "account-123" {
		t.Errorf("expected account-123, got %q", accountID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResolve_SessionForDeletedAccountFallsBackToFingerprint(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	token, err := GenerateSessionToken(testSecret, "gone-account")
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts WHERE id =`).
		WithArgs("gone-account").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts WHERE fingerprint =`).
		WithArgs("device-abc").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(pgxmock.AnyArg(), "device-abc").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	h := NewHandler(mock, testSecret, false)
	var accountID string

	req := httptest.NewRequest(http.MethodGet, "/all", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token})
	req.AddCookie(&http.Cookie{Name: "fingerprint", Value: "device-abc"})
	rec := httptest.NewRecorder()
	h.Resolve(okHandler(t, &accountID)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if accountID == "gone-account" || accountID == "" {
		t.Errorf("expected a fresh account id, got %q", accountID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
