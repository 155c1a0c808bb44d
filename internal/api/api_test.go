// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/platebook/internal/archive"
	"github.com/tomtom215/platebook/internal/backup"
	"github.com/tomtom215/platebook/internal/logging"
	"github.com/tomtom215/platebook/internal/settings"
)

//nolint:gochecknoinits // quiet logs for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	mu        sync.Mutex
	active    backup.Operation
	exportDir string

	exportErr  error
	importErr  error
	restoreErr error

	imported []byte
}

func (f *fakeEngine) Status(context.Context) (*backup.Status, error) {
	return &backup.Status{
		Operation:  f.Active(),
		Busy:       f.Active() != backup.OpNone,
		LastExport: &settings.ExportRecord{Path: "/x/platebook-backup-20260101-000000.tar.zst", SizeBytes: 42, ProducedByVersion: "1.2.3"},
		Exports:    []backup.ExportFile{},
	}, nil
}

func (f *fakeEngine) Export(ctx context.Context, _ backup.ProgressFunc) (*backup.ExportResult, error) {
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return &backup.ExportResult{Record: settings.ExportRecord{Path: "p", SizeBytes: 7}}, nil
}

func (f *fakeEngine) Import(_ context.Context, path string, _ backup.ProgressFunc) (*backup.ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.imported = data
	f.mu.Unlock()
	if f.importErr != nil {
		return nil, f.importErr
	}
	return &backup.ImportResult{RestartRequired: true, SafetyBackup: settings.SafetyBackupRecord{ID: "s1", Location: "/safety/s1"}}, nil
}

func (f *fakeEngine) RestorePrevious(context.Context, backup.ProgressFunc) (*backup.RestoreResult, error) {
	if f.restoreErr != nil {
		return nil, f.restoreErr
	}
	return &backup.RestoreResult{RestartRequired: true}, nil
}

func (f *fakeEngine) ListExports() ([]backup.ExportFile, error) {
	return []backup.ExportFile{
		{Name: "platebook-backup-20260103-000000.tar.zst", Size: 3},
		{Name: "platebook-backup-20260102-000000.tar.gz", Size: 2},
		{Name: "platebook-backup-20260101-000000.tar", Size: 1},
	}, nil
}

func (f *fakeEngine) ExportPath(name string) (string, error) {
	p := filepath.Join(f.exportDir, name)
	if name != filepath.Base(name) || !strings.HasPrefix(name, "platebook-backup-") {
		return "", fmt.Errorf("%w: %q", backup.ErrExportNotFound, name)
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %q", backup.ErrExportNotFound, name)
	}
	return p, nil
}

func (f *fakeEngine) Active() backup.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type testServer struct {
	engine   *fakeEngine
	handler  http.Handler
	restarts []backup.Operation
	upload   string
}

func newTestServer(t *testing.T, mutate func(*Options, *RouterConfig)) *testServer {
	t.Helper()
	ts := &testServer{engine: &fakeEngine{exportDir: t.TempDir()}, upload: t.TempDir()}
	opts := Options{
		UploadDir:      ts.upload,
		MaxUploadBytes: 1 << 20,
		RequestRestart: func(op backup.Operation) { ts.restarts = append(ts.restarts, op) },
		Version:        "test",
	}
	rc := RouterConfig{}
	if mutate != nil {
		mutate(&opts, &rc)
	}
	ts.handler = NewRouter(NewHandler(ts.engine, nil, opts), rc)
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func (ts *testServer) uploadsLeft(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(ts.upload)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestHealthAndStatus(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("health: %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" || resp.Meta == nil || resp.Meta.RequestID != rec.Header().Get("X-Request-ID") {
		t.Error("expected request id in header and meta")
	}

	rec, resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d %s", rec.Code, rec.Body)
	}
	data, _ := resp.Data.(map[string]interface{})
	last, _ := data["lastExport"].(map[string]interface{})
	if last == nil || last["producedByVersion"] != "1.2.3" {
		t.Errorf("unexpected status payload %v", resp.Data)
	}
}

func TestExportEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	rec, resp := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/export", nil))
	if rec.Code != http.StatusCreated || !resp.Success {
		t.Fatalf("export: %d %s", rec.Code, rec.Body)
	}

	ts.engine.exportErr = &backup.ExportError{Phase: backup.PhaseWrite, Err: errors.New("disk full")}
	rec, resp = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/export", nil))
	if rec.Code != http.StatusInternalServerError || resp.Error == nil || resp.Error.Code != ErrCodeExportFailed {
		t.Fatalf("expected EXPORT_FAILED, got %d %s", rec.Code, rec.Body)
	}
	if details, _ := resp.Error.Details.(map[string]interface{}); details["phase"] != "write" {
		t.Errorf("expected phase detail, got %v", resp.Error.Details)
	}
}

func TestImportRawBody(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	payload := []byte("archive bytes")
	rec, resp := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", bytes.NewReader(payload)))
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("import: %d %s", rec.Code, rec.Body)
	}
	if !bytes.Equal(ts.engine.imported, payload) {
		t.Errorf("engine saw %q", ts.engine.imported)
	}
	if len(ts.restarts) != 1 || ts.restarts[0] != backup.OpImport {
		t.Errorf("expected one restart request, got %v", ts.restarts)
	}
	if n := ts.uploadsLeft(t); n != 0 {
		t.Errorf("upload file left behind (%d entries)", n)
	}
}

func TestImportMultipart(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("note", "ignored")
	fw, err := mw.CreateFormFile("file", "backup.tar.zst")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("multipart archive"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec, _ := ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import: %d %s", rec.Code, rec.Body)
	}
	if string(ts.engine.imported) != "multipart archive" {
		t.Errorf("engine saw %q", ts.engine.imported)
	}
}

func TestImportRejections(t *testing.T) {
	t.Parallel()

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, func(o *Options, _ *RouterConfig) { o.MaxUploadBytes = 8 })
		rec, resp := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", strings.NewReader("0123456789")))
		if rec.Code != http.StatusRequestEntityTooLarge || resp.Error.Code != ErrCodePayloadTooLarge {
			t.Fatalf("expected 413, got %d %s", rec.Code, rec.Body)
		}
		if ts.engine.imported != nil {
			t.Error("engine must not see a truncated upload")
		}
		if n := ts.uploadsLeft(t); n != 0 {
			t.Errorf("upload file left behind (%d entries)", n)
		}
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, nil)
		rec, _ := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", http.NoBody))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("busy", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, nil)
		ts.engine.active = backup.OpExport
		rec, resp := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", strings.NewReader("x")))
		if rec.Code != http.StatusConflict || resp.Error.Code != ErrCodeBusy {
			t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body)
		}
		if ts.engine.imported != nil {
			t.Error("busy engine should not receive the upload")
		}
	})
}

func TestImportErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			"invalid archive",
			&backup.ImportError{Phase: backup.PhaseInvalidArchive, Err: &archive.InvalidArchiveError{Member: "metadata.json", Reason: "missing"}},
			http.StatusUnprocessableEntity, ErrCodeInvalidArchive,
		},
		{
			"safety backup failed",
			&backup.ImportError{Phase: backup.PhaseSafetyBackupFailed, Err: errors.New("no space")},
			http.StatusInternalServerError, ErrCodeSafetyBackupFailed,
		},
		{
			"rolled back",
			&backup.ImportError{Phase: backup.PhaseReplaceFailed, RolledBack: true, Err: errors.New("rename")},
			http.StatusInternalServerError, ErrCodeReplaceFailed,
		},
		{
			"rollback failed",
			&backup.ImportError{Phase: backup.PhaseRollbackFailed, SafetyLocation: "/safety/x", Err: errors.New("copy")},
			http.StatusInternalServerError, ErrCodeRollbackFailed,
		},
		{
			"cancelled",
			&backup.ImportError{Phase: backup.PhaseExtractionFailed, Err: context.Canceled},
			http.StatusRequestTimeout, ErrCodeCancelled,
		},
		{
			"busy",
			&backup.BusyError{Active: backup.OpRestorePrevious},
			http.StatusConflict, ErrCodeBusy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, nil)
			ts.engine.importErr = tt.err

			rec, resp := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/import", strings.NewReader("x")))
			if rec.Code != tt.status || resp.Error == nil || resp.Error.Code != tt.code {
				t.Fatalf("got %d %s, want %d %s", rec.Code, rec.Body, tt.status, tt.code)
			}
			if len(ts.restarts) != 0 {
				t.Error("failed import must not request a restart")
			}
		})
	}
}

func TestRollbackFailedDetails(t *testing.T) {
	t.Parallel()

	resp := classifyError(&backup.ImportError{Phase: backup.PhaseRollbackFailed, SafetyLocation: "/safety/x", Err: errors.New("copy")})
	if resp.details["safetyLocation"] != "/safety/x" {
		t.Errorf("expected safety location, got %v", resp.details)
	}
	if resp.details["retryable"] != false || resp.details["liveStateConsistent"] != false {
		t.Errorf("rollback failure must not be retryable: %v", resp.details)
	}
}

func TestSettingsPendingDetails(t *testing.T) {
	t.Parallel()

	resp := classifyError(&backup.ImportError{Phase: backup.PhaseReplaceFailed, SettingsPending: true, Err: errors.New("disk")})
	if resp.code != ErrCodeReplaceFailed {
		t.Errorf("expected %s, got %s", ErrCodeReplaceFailed, resp.code)
	}
	if resp.details["settingsPending"] != true || resp.details["liveStateConsistent"] != true {
		t.Errorf("expected consistent state with settings pending: %v", resp.details)
	}
}

func TestRestorePreviousEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	ts.engine.restoreErr = backup.ErrNoSafetyBackup
	rec, resp := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/restore-previous", nil))
	if rec.Code != http.StatusNotFound || resp.Error.Code != ErrCodeNoSafetyBackup {
		t.Fatalf("expected 404 NO_SAFETY_BACKUP, got %d %s", rec.Code, rec.Body)
	}

	ts.engine.restoreErr = nil
	rec, _ = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/restore-previous", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: %d %s", rec.Code, rec.Body)
	}
	if len(ts.restarts) != 1 || ts.restarts[0] != backup.OpRestorePrevious {
		t.Errorf("expected restart request, got %v", ts.restarts)
	}
}

func TestExportListAndDownload(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	name := "platebook-backup-20260101-000000.tar.zst"
	if err := os.WriteFile(filepath.Join(ts.engine.exportDir, name), []byte("zstd!"), 0o600); err != nil {
		t.Fatal(err)
	}

	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/exports", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if files, _ := resp.Data.([]interface{}); len(files) != 3 {
		t.Errorf("expected three exports, got %v", resp.Data)
	}

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/exports/"+name, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "zstd!" {
		t.Fatalf("download: %d %q", rec.Code, rec.Body)
	}
	if rec.Header().Get("Content-Type") != "application/zstd" || !strings.Contains(rec.Header().Get("Content-Disposition"), name) {
		t.Errorf("unexpected headers %v", rec.Header())
	}

	rec, resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/exports/platebook-backup-missing.tar", nil))
	if rec.Code != http.StatusNotFound || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("expected 404, got %d %s", rec.Code, rec.Body)
	}
}

func TestExportListFilters(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	names := func(resp APIResponse) []string {
		files, _ := resp.Data.([]interface{})
		out := make([]string, 0, len(files))
		for _, f := range files {
			m, _ := f.(map[string]interface{})
			name, _ := m["name"].(string)
			out = append(out, name)
		}
		return out
	}

	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/exports?compression=GZIP", nil))
	if got := names(resp); rec.Code != http.StatusOK || len(got) != 1 || !strings.HasSuffix(got[0], ".tar.gz") {
		t.Errorf("gzip filter: %d %v", rec.Code, got)
	}

	rec, resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/exports?compression=none", nil))
	if got := names(resp); rec.Code != http.StatusOK || len(got) != 1 || !strings.HasSuffix(got[0], "000000.tar") {
		t.Errorf("none filter: %d %v", rec.Code, got)
	}

	rec, resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/exports?limit=2", nil))
	if got := names(resp); rec.Code != http.StatusOK || len(got) != 2 || !strings.HasSuffix(got[0], ".tar.zst") {
		t.Errorf("limit: %d %v", rec.Code, got)
	}
}

func TestExportListRejectsBadQuery(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/exports?compression=rar", nil))
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != ErrCodeValidation {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d %s", rec.Code, rec.Body)
	}
	details, _ := resp.Error.Details.(map[string]interface{})
	if details["tag"] != "compression" || details["value"] != "rar" {
		t.Errorf("unexpected details %v", details)
	}

	rec, resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/exports?limit=many&compression=rar", nil))
	if rec.Code != http.StatusBadRequest || resp.Error == nil {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body)
	}
	details, _ = resp.Error.Details.(map[string]interface{})
	fields, _ := details["fields"].([]interface{})
	if len(fields) != 2 {
		t.Fatalf("expected two field errors, got %v", details)
	}
	first, _ := fields[0].(map[string]interface{})
	if first["tag"] != "min" || first["param"] != "0" {
		t.Errorf("unexpected limit error %v", first)
	}
}

func TestOperationRateLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(_ *Options, rc *RouterConfig) {
		rc.RateLimitRequests = 2
		rc.RateLimitWindow = time.Minute
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/backup/export", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}

	// Reads are not limited.
	rec, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/backup/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status should not be rate limited, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(_ *Options, rc *RouterConfig) {
		rc.CORSOrigins = []string{"http://localhost:5173"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/backup/export", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected allowed origin, got %q", got)
	}
}

func TestWebSocketWithoutHub(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	if rec.Code != http.StatusServiceUnavailable || resp.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("expected 503, got %d %s", rec.Code, rec.Body)
	}
}

func TestCheckWebSocketOrigin(t *testing.T) {
	t.Parallel()
	h := NewHandler(&fakeEngine{}, nil, Options{AllowedOrigins: []string{"http://ui.local"}})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", false},
		{"http://example.com", true}, // same host as the request
		{"http://ui.local", true},
		{"http://evil.test", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := h.checkWebSocketOrigin(req); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestRateLimitedReader(t *testing.T) {
	t.Parallel()
	h := NewHandler(&fakeEngine{}, nil, Options{UploadRateBytes: 1 << 20})
	if h.limiter == nil || h.limiter.Burst() != 1<<20 {
		t.Fatalf("unexpected limiter %+v", h.limiter)
	}

	src := bytes.Repeat([]byte("a"), 100_000)
	r := &rateLimitedReader{ctx: context.Background(), r: bytes.NewReader(src), limiter: h.limiter}
	got, err := io.ReadAll(r)
	if err != nil || !bytes.Equal(got, src) {
		t.Fatalf("read %d bytes, err %v", len(got), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewHandler(&fakeEngine{}, nil, Options{UploadRateBytes: 1})
	r = &rateLimitedReader{ctx: ctx, r: bytes.NewReader(src), limiter: slow.limiter}
	if _, err := io.ReadAll(r); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	t.Parallel()
	if got := sanitizeLogValue("a\nb\x7f"); got != `a\x0ab\x7f` {
		t.Errorf("got %q", got)
	}
}
