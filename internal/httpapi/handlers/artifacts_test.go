package handlers

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	v0 "lienzo/internal/contracts/render/v0"
)

func serve(t *testing.T, a v0.Artifact) *httptest.ResponseRecorder {
	t.Helper()
	h := &Handler{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/jobs/job-1/artifacts/"+a.Filename, nil)
	h.serveArtifact(rec, req, a)
	return rec
}

func TestServeArtifactBase64(t *testing.T) {
	rec := serve(t, v0.Artifact{
		Filename: "out.png",
		Type:     "base64",
		Data:     base64.StdEncoding.EncodeToString([]byte("fake-png-bytes")),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("expected image/png from the extension, got %q", got)
	}
	if rec.Body.String() != "fake-png-bytes" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Length"); got != "14" {
		t.Errorf("unexpected content length: %q", got)
	}
}

func TestServeArtifactBase64Sniffed(t *testing.T) {
	rec := serve(t, v0.Artifact{
		Filename: "blob.weird",
		Type:     "base64",
		Data:     base64.StdEncoding.EncodeToString([]byte("plain text payload")),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected sniffed text type for unknown extension, got %q", ct)
	}
}

func TestServeArtifactBadBase64(t *testing.T) {
	rec := serve(t, v0.Artifact{Filename: "out.png", Type: "base64", Data: "%%%not-base64%%%"})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("expected error envelope, got: %s", rec.Body.String())
	}
}

func TestServeArtifactRedirectsToURL(t *testing.T) {
	rec := serve(t, v0.Artifact{
		Filename: "out.png",
		Type:     "s3_url",
		Data:     "https://bucket.example.com/renders/job-1/out.png?sig=abc",
	})

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://bucket.example.com/renders/job-1/out.png?sig=abc" {
		t.Errorf("unexpected redirect target: %q", got)
	}
}

func TestServeArtifactLocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")
	if err := os.WriteFile(path, []byte("stored-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := serve(t, v0.Artifact{Filename: "out.png", Type: "s3_url", Data: path})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "stored-bytes" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}
