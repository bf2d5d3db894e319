package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentworkforce/drivewatch/internal/drivesync"
	"github.com/agentworkforce/drivewatch/internal/logging"
)

const testSecret = "test-secret"

func mustTestJWT(t *testing.T, secret, audience string, scopes []string, exp time.Time) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload, err := json.Marshal(map[string]any{
		"sub":    "ops",
		"aud":    audience,
		"exp":    exp.Unix(),
		"scopes": scopes,
	})
	if err != nil {
		t.Fatalf("marshal claims failed: %v", err)
	}
	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

type fakeRunner struct {
	summary drivesync.RunSummary
	err     error
	runs    int
	last    *drivesync.RunRecord
}

func (f *fakeRunner) Run(context.Context) (drivesync.RunSummary, error) {
	f.runs++
	if f.err == nil || !errors.Is(f.err, drivesync.ErrRunInProgress) {
		f.last = &drivesync.RunRecord{Summary: f.summary, Err: f.err}
	}
	return f.summary, f.err
}

func (f *fakeRunner) LastRun() (drivesync.RunRecord, bool) {
	if f.last == nil {
		return drivesync.RunRecord{}, false
	}
	return *f.last, true
}

type fakeFolders struct {
	rows []drivesync.FolderRow
}

func (f fakeFolders) Rows() ([]drivesync.FolderRow, error) {
	return f.rows, nil
}

type fakeSheets struct {
	rows  map[string][][]string
	props map[string]string
}

func (f fakeSheets) Rows(name string) ([][]string, error) {
	rows, ok := f.rows[name]
	if !ok {
		return nil, errors.New("sheet not found")
	}
	return rows, nil
}

func (f fakeSheets) Property(key string) (string, bool) {
	value, ok := f.props[key]
	return value, ok
}

func newTestServer(runner *fakeRunner) *Server {
	folders := fakeFolders{rows: []drivesync.FolderRow{{
		Index:       1,
		Enabled:     true,
		Reference:   "ABC123",
		Name:        "Reports",
		LastChecked: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC),
	}}}
	sheets := fakeSheets{
		rows: map[string][][]string{
			"Reports_ABC123": {
				drivesync.LedgerHeader,
				{"a.txt", "https://drive.google.com/file/d/a/view", "File", "2024-07-01T08:00:00Z", "o@example.com", "Reports"},
			},
		},
		props: map[string]string{"ledger.ABC123": "Reports_ABC123"},
	}
	return NewServer(runner, folders, sheets, ServerConfig{JWTSecret: testSecret, Logger: logging.Discard()})
}

func doRequest(t *testing.T, server http.Handler, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Correlation-Id", "corr-1")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestHealthNeedsNoAuth(t *testing.T) {
	rec, body := doRequest(t, newTestServer(&fakeRunner{}), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected healthy response, got %d %v", rec.Code, body)
	}
}

func TestAuthRejections(t *testing.T) {
	server := newTestServer(&fakeRunner{})
	future := time.Now().Add(time.Hour)

	rec, body := doRequest(t, server, http.MethodGet, "/v1/folders", "")
	if rec.Code != http.StatusUnauthorized || body["correlationId"] != "corr-1" {
		t.Fatalf("expected 401 with correlation id, got %d %v", rec.Code, body)
	}
	rec, _ = doRequest(t, server, http.MethodGet, "/v1/folders", mustTestJWT(t, "wrong", DefaultAudience, []string{ScopeStatusRead}, future))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
	rec, _ = doRequest(t, server, http.MethodGet, "/v1/folders", mustTestJWT(t, testSecret, DefaultAudience, []string{ScopeStatusRead}, time.Now().Add(-time.Minute)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}
	rec, _ = doRequest(t, server, http.MethodGet, "/v1/folders", mustTestJWT(t, testSecret, "other", []string{ScopeStatusRead}, future))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong audience, got %d", rec.Code)
	}
	rec, _ = doRequest(t, server, http.MethodPost, "/v1/runs", mustTestJWT(t, testSecret, DefaultAudience, []string{ScopeStatusRead}, future))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without trigger scope, got %d", rec.Code)
	}
}

func TestFoldersAndLedger(t *testing.T) {
	server := newTestServer(&fakeRunner{})
	token := mustTestJWT(t, testSecret, DefaultAudience, []string{ScopeStatusRead}, time.Now().Add(time.Hour))

	rec, body := doRequest(t, server, http.MethodGet, "/v1/folders", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rec.Code, body)
	}
	folders, _ := body["folders"].([]any)
	if len(folders) != 1 {
		t.Fatalf("expected one folder, got %v", body)
	}
	first, _ := folders[0].(map[string]any)
	if first["reference"] != "ABC123" || first["lastChecked"] != "2024-07-01T09:00:00Z" {
		t.Fatalf("unexpected folder view %v", first)
	}

	rec, body = doRequest(t, server, http.MethodGet, "/v1/ledgers/ABC123", token)
	if rec.Code != http.StatusOK || body["ledger"] != "Reports_ABC123" {
		t.Fatalf("expected ledger response, got %d %v", rec.Code, body)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %v", body["entries"])
	}
	entry, _ := entries[0].(map[string]any)
	if entry["URL"] != "https://drive.google.com/file/d/a/view" || entry["Kind"] != "File" {
		t.Fatalf("unexpected entry %v", entry)
	}

	rec, _ = doRequest(t, server, http.MethodGet, "/v1/ledgers/UNKNOWN", token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unmapped folder, got %d", rec.Code)
	}
}

func TestTriggerRunAndLastRun(t *testing.T) {
	runner := &fakeRunner{summary: drivesync.RunSummary{
		Started:  time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC),
		Finished: time.Date(2024, 7, 1, 9, 1, 0, 0, time.UTC),
		Rows: []drivesync.RowResult{
			{Row: 1, Reference: "ABC123", FolderID: "ABC123", Ledger: "Reports_ABC123", Status: drivesync.RowSuccess, NewEntries: []drivesync.Entry{{Name: "a.txt"}}},
			{Row: 2, Reference: "BROKEN", Status: drivesync.RowResolutionError, Err: drivesync.ErrFolderUnresolvable},
		},
	}}
	server := newTestServer(runner)
	readToken := mustTestJWT(t, testSecret, DefaultAudience, []string{ScopeStatusRead}, time.Now().Add(time.Hour))
	runToken := mustTestJWT(t, testSecret, DefaultAudience, []string{ScopeRunsTrigger}, time.Now().Add(time.Hour))

	rec, _ := doRequest(t, server, http.MethodGet, "/v1/runs/last", readToken)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any run, got %d", rec.Code)
	}

	rec, body := doRequest(t, server, http.MethodPost, "/v1/runs", runToken)
	if rec.Code != http.StatusOK || runner.runs != 1 {
		t.Fatalf("expected triggered run, got %d %v (runs=%d)", rec.Code, body, runner.runs)
	}
	rows, _ := body["rows"].([]any)
	if len(rows) != 2 {
		t.Fatalf("expected two rows, got %v", body)
	}
	second, _ := rows[1].(map[string]any)
	if second["status"] != "ResolutionError" || second["error"] != "folder unresolvable" {
		t.Fatalf("unexpected row view %v", second)
	}

	rec, body = doRequest(t, server, http.MethodGet, "/v1/runs/last", readToken)
	if rec.Code != http.StatusOK || body["finished"] != "2024-07-01T09:01:00Z" {
		t.Fatalf("expected last run, got %d %v", rec.Code, body)
	}
}

func TestTriggerRunConflict(t *testing.T) {
	runner := &fakeRunner{err: drivesync.ErrRunInProgress}
	server := newTestServer(runner)
	token := mustTestJWT(t, testSecret, DefaultAudience, []string{ScopeRunsTrigger}, time.Now().Add(time.Hour))

	rec, body := doRequest(t, server, http.MethodPost, "/v1/runs", token)
	if rec.Code != http.StatusConflict || body["code"] != "run_in_progress" {
		t.Fatalf("expected 409 run_in_progress, got %d %v", rec.Code, body)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	server := newTestServer(&fakeRunner{})
	rec, _ := doRequest(t, server, http.MethodGet, "/v1/nothing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec, _ = doRequest(t, server, http.MethodGet, "/v1/runs", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
