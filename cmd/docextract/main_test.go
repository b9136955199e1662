package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docpipe"
	"github.com/hazyhaar/docextract/mimes"
	"github.com/hazyhaar/docextract/plugin"
)

func testRouter(t *testing.T, so *serveOptions) http.Handler {
	t.Helper()
	pipe := docpipe.New(docpipe.Config{Registry: plugin.NewRegistry(nil)})
	t.Cleanup(func() { pipe.Close() })
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	return newRouter(pipe, so, done)
}

func TestRouter_SecurityHeaders(t *testing.T) {
	// WHAT: every response carries the shield headers and a request id.
	h := testRouter(t, &serveOptions{maxBody: 1 << 20})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	checks := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
	}
	for header, expected := range checks {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("%s: got %q, want %q", header, got, expected)
		}
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestRouter_RateLimit(t *testing.T) {
	h := testRouter(t, &serveOptions{maxBody: 1 << 20, rateLimit: 2})

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/extract?mime_type=text/plain", strings.NewReader("hello"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	// /health is excluded.
	for range 5 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("health = %d", rec.Code)
		}
	}
}

func TestRouter_MaxBody(t *testing.T) {
	h := testRouter(t, &serveOptions{maxBody: 16})
	req := httptest.NewRequest(http.MethodPost, "/extract?mime_type=text/plain", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("code = %d: %s", rec.Code, rec.Body)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docextract.yaml")
	if err := os.WriteFile(path, []byte("output_format: markdown\nforce_ocr: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path, newLogger("error", io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OutputFormat != config.OutputMarkdown || !cfg.ForceOCR {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("DOCEXTRACT_OUTPUT_FORMAT", "html")
	cfg, err = loadConfig(path, newLogger("error", io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OutputFormat != config.OutputHTML {
		t.Errorf("env override: output format = %q", cfg.OutputFormat)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("no_such_field: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(bad, newLogger("error", io.Discard)); err == nil {
		t.Error("unknown field should be rejected")
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "docextract.yaml")
	if err := os.WriteFile(path, []byte("output_format: plain\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLI_Detect(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "scan")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"report.docx", mimes.DOCX},
		{pdf, mimes.PDF},
	}
	for _, tt := range tests {
		out, err := runCLI(t, "detect", tt.path)
		if err != nil {
			t.Fatalf("detect %s: %v", tt.path, err)
		}
		if strings.TrimSpace(out) != tt.want {
			t.Errorf("detect %s = %q, want %q", tt.path, out, tt.want)
		}
	}
}

func TestCLI_Extract(t *testing.T) {
	t.Setenv("DOCEXTRACT_CACHE_DB", "")
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	doc := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(doc, []byte("plain notes from disk"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "--config", cfg, "--log-level", "error", "extract", doc)
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Content  string `json:"content"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.MimeType != mimes.PlainText || !strings.Contains(res.Content, "plain notes from disk") {
		t.Errorf("res = %+v", res)
	}
}

func TestCLI_Batch(t *testing.T) {
	t.Setenv("DOCEXTRACT_CACHE_DB", "")
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	good := filepath.Join(dir, "a.md")
	if err := os.WriteFile(good, []byte("# A\n\nbody"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "gone.txt")

	out, err := runCLI(t, "--config", cfg, "--log-level", "error", "batch", good, missing)
	if err == nil {
		t.Fatal("batch with a missing file should fail")
	}
	var lines []batchLine
	if err := json.Unmarshal([]byte(out), &lines); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	if lines[0].Error != "" || lines[0].Result == nil {
		t.Errorf("line 0 = %+v", lines[0])
	}
	if lines[1].Path != missing || lines[1].Error == "" {
		t.Errorf("line 1 = %+v", lines[1])
	}
}

func TestCLI_MetricsRequiresDB(t *testing.T) {
	t.Setenv("DOCEXTRACT_METRICS_DB", "")
	if _, err := runCLI(t, "metrics"); err == nil {
		t.Error("metrics without --metrics-db should fail")
	}
}

func TestCLI_Metrics(t *testing.T) {
	t.Setenv("DOCEXTRACT_CACHE_DB", "")
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	db := filepath.Join(dir, "db", "metrics.db")
	doc := filepath.Join(dir, "x.txt")
	if err := os.WriteFile(doc, []byte("counted"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runCLI(t, "--config", cfg, "--metrics-db", db, "--log-level", "error", "extract", doc); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, "--config", cfg, "--metrics-db", db, "--log-level", "error", "metrics")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"name"`) {
		t.Errorf("summary = %s", out)
	}
}
