package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"lienzo/internal/graph"
	"lienzo/internal/pkg/errors"
	"lienzo/internal/pkg/logger"
)

func newTestClient(srv *httptest.Server) *Client {
	log := logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard})
	return NewClient(strings.TrimPrefix(srv.URL, "http://"), log)
}

// catalogHandler serves the node catalog with two installed checkpoints.
func catalogHandler(w http.ResponseWriter) {
	_, _ = w.Write([]byte(`{
		"CheckpointLoaderSimple": {
			"input": {"required": {"ckpt_name": [["sd15.safetensors", "sdxl.safetensors"]]}}
		}
	}`))
}

func TestAlive(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		if !newTestClient(srv).Alive(context.Background()) {
			t.Error("expected Alive to report true for a 200 response")
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		if newTestClient(srv).Alive(context.Background()) {
			t.Error("expected Alive to report false for a 500 response")
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		c := newTestClient(srv)
		srv.Close()

		if c.Alive(context.Background()) {
			t.Error("expected Alive to report false when unreachable")
		}
	})
}

func TestAwaitReady(t *testing.T) {
	t.Run("ready immediately", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		if err := newTestClient(srv).AwaitReady(context.Background(), 3, time.Millisecond); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("becomes ready after retries", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		if err := newTestClient(srv).AwaitReady(context.Background(), 5, time.Millisecond); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 probes, got %d", calls.Load())
		}
	})

	t.Run("gives up", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		c := newTestClient(srv)
		srv.Close()

		err := c.AwaitReady(context.Background(), 2, time.Millisecond)
		if err == nil {
			t.Fatal("expected an error for an unreachable engine")
		}
		if !strings.Contains(err.Error(), "not reachable after multiple retries") {
			t.Errorf("unexpected message: %v", err)
		}
		if !errors.IsCode(err, errors.CodeUnavailable) {
			t.Errorf("expected CodeUnavailable, got %v", errors.GetCode(err))
		}
	})
}

func TestQueuePrompt(t *testing.T) {
	g := graph.Graph{
		"1": {ClassType: "KSampler", Inputs: map[string]any{"seed": float64(42)}},
	}

	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/prompt" || r.Method != http.MethodPost {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			var payload struct {
				Prompt   graph.Graph `json:"prompt"`
				ClientID string      `json:"client_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("bad request body: %v", err)
				return
			}
			if payload.ClientID != "test-client" {
				t.Errorf("expected client_id='test-client', got %q", payload.ClientID)
			}
			if payload.Prompt["1"] == nil || payload.Prompt["1"].ClassType != "KSampler" {
				t.Error("graph did not survive the round trip")
			}
			_, _ = w.Write([]byte(`{"prompt_id": "exec-1", "number": 4}`))
		}))
		defer srv.Close()

		id, err := newTestClient(srv).QueuePrompt(context.Background(), g, "test-client")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "exec-1" {
			t.Errorf("expected prompt id 'exec-1', got %q", id)
		}
	})

	t.Run("missing prompt_id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"number": 4}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv).QueuePrompt(context.Background(), g, "c")
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(err.Error(), "Missing 'prompt_id' in queue response") {
			t.Errorf("unexpected message: %v", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("engine exploded"))
		}))
		defer srv.Close()

		_, err := newTestClient(srv).QueuePrompt(context.Background(), g, "c")
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(err.Error(), "Error queuing workflow: status 500: engine exploded") {
			t.Errorf("unexpected message: %v", err)
		}
		if !errors.IsCode(err, errors.CodeUnavailable) {
			t.Errorf("expected CodeUnavailable, got %v", errors.GetCode(err))
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		c := newTestClient(srv)
		srv.Close()

		_, err := c.QueuePrompt(context.Background(), g, "c")
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(err.Error(), "Error queuing workflow:") {
			t.Errorf("unexpected message: %v", err)
		}
	})
}

func TestQueuePromptRejections(t *testing.T) {
	g := graph.Graph{"1": {ClassType: "KSampler"}}

	tests := []struct {
		name        string
		body        string
		withCatalog bool
		contains    []string
		excludes    []string
	}{
		{
			name:     "unparseable body",
			body:     `<html>bad gateway</html>`,
			contains: []string{"Rendering engine validation failed (could not parse error response): <html>bad gateway</html>"},
		},
		{
			name: "message with node errors",
			body: `{"error": {"message": "Invalid prompt"}, "node_errors": {"7": "missing input"}}`,
			contains: []string{
				"Invalid prompt:",
				"\n• Node 7: missing input",
			},
			excludes: []string{"checkpoint models"},
		},
		{
			name:        "missing checkpoint adds model hint",
			body:        `{"error": {"message": "Prompt validation failed"}, "node_errors": {"4": {"errors": "ckpt_name 'missing.safetensors' not in list"}}}`,
			withCatalog: true,
			contains: []string{
				"Prompt validation failed:",
				"\n• Node 4 (errors): ckpt_name 'missing.safetensors' not in list",
				"Available checkpoint models: sd15.safetensors, sdxl.safetensors",
			},
		},
		{
			name:        "output validation failure",
			body:        `{"type": "prompt_outputs_failed_validation", "message": "Output validation failed"}`,
			withCatalog: true,
			contains: []string{
				"Output validation failed",
				"This usually means a required model or parameter is not available.",
				"Available checkpoint models: sd15.safetensors, sdxl.safetensors",
			},
		},
		{
			name: "output validation failure without catalog",
			body: `{"type": "prompt_outputs_failed_validation"}`,
			contains: []string{
				"Workflow validation failed",
				"No checkpoint models appear to be available.",
			},
		},
		{
			name:     "string error without details",
			body:     `{"error": "kaboom"}`,
			contains: []string{"kaboom. Raw response:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/object_info" {
					if !tt.withCatalog {
						w.WriteHeader(http.StatusNotFound)
						return
					}
					catalogHandler(w)
					return
				}
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv).QueuePrompt(context.Background(), g, "c")
			if err == nil {
				t.Fatal("expected a rejection error")
			}
			if !errors.IsCode(err, errors.CodeValidation) {
				t.Errorf("expected CodeValidation, got %v", errors.GetCode(err))
			}
			for _, want := range tt.contains {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("expected message to contain %q, got:\n%s", want, err.Error())
				}
			}
			for _, not := range tt.excludes {
				if strings.Contains(err.Error(), not) {
					t.Errorf("expected message to not contain %q, got:\n%s", not, err.Error())
				}
			}
		})
	}
}

func TestHistory(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/history/exec-1" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{
				"exec-1": {"outputs": {"9": {"images": [{"filename": "out.png", "subfolder": "", "type": "output"}]}}}
			}`))
		}))
		defer srv.Close()

		history, err := newTestClient(srv).History(context.Background(), "exec-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rec, ok := history["exec-1"]
		if !ok {
			t.Fatal("expected record for exec-1")
		}
		if _, ok := rec.Outputs["9"]["images"]; !ok {
			t.Error("expected images section under node 9")
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestClient(srv).History(context.Background(), "exec-1")
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(err.Error(), "HTTP communication error with rendering engine: history returned status 502") {
			t.Errorf("unexpected message: %v", err)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		c := newTestClient(srv)
		srv.Close()

		_, err := c.History(context.Background(), "exec-1")
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(err.Error(), "HTTP communication error with rendering engine:") {
			t.Errorf("unexpected message: %v", err)
		}
	})
}

func TestFetchArtifact(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		payload := []byte{0x89, 'P', 'N', 'G'}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/view" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			q := r.URL.Query()
			if q.Get("filename") != "out.png" || q.Get("subfolder") != "batch" || q.Get("type") != "output" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write(payload)
		}))
		defer srv.Close()

		ref := ArtifactRef{Filename: "out.png", Subfolder: "batch", Type: "output"}
		data, err := newTestClient(srv).FetchArtifact(context.Background(), ref, KindImage)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != string(payload) {
			t.Error("artifact bytes did not survive the round trip")
		}
	})

	t.Run("not found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newTestClient(srv).FetchArtifact(context.Background(), ArtifactRef{Filename: "x.png"}, KindImage)
		if err == nil {
			t.Fatal("expected an error")
		}
		if !errors.IsCode(err, errors.CodeUnavailable) {
			t.Errorf("expected CodeUnavailable, got %v", errors.GetCode(err))
		}
	})
}

func TestUploadImage(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/upload/image" || r.Method != http.MethodPost {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("bad multipart body: %v", err)
				return
			}
			if got := r.FormValue("overwrite"); got != "true" {
				t.Errorf("expected overwrite=true, got %q", got)
			}
			file, header, err := r.FormFile("image")
			if err != nil {
				t.Errorf("missing image part: %v", err)
				return
			}
			defer file.Close()
			if header.Filename != "input.png" {
				t.Errorf("expected filename 'input.png', got %q", header.Filename)
			}
			data, _ := io.ReadAll(file)
			if string(data) != "raw-bytes" {
				t.Errorf("unexpected image payload: %q", data)
			}
		}))
		defer srv.Close()

		err := newTestClient(srv).UploadImage(context.Background(), "input.png", []byte("raw-bytes"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		err := newTestClient(srv).UploadImage(context.Background(), "input.png", []byte("x"))
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(err.Error(), "upload request failed: status 500") {
			t.Errorf("unexpected message: %v", err)
		}
	})
}

func TestCheckpointNames(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
		want    []string
	}{
		{
			name:    "two models",
			catalog: `{"CheckpointLoaderSimple": {"input": {"required": {"ckpt_name": [["a.safetensors", "b.ckpt"]]}}}}`,
			want:    []string{"a.safetensors", "b.ckpt"},
		},
		{
			name:    "loader missing",
			catalog: `{"OtherNode": {}}`,
			want:    nil,
		},
		{
			name:    "empty options",
			catalog: `{"CheckpointLoaderSimple": {"input": {"required": {"ckpt_name": [[]]}}}}`,
			want:    []string{},
		},
		{
			name:    "wrong shape",
			catalog: `{"CheckpointLoaderSimple": {"input": {"required": {"ckpt_name": "nope"}}}}`,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var catalog map[string]any
			if err := json.Unmarshal([]byte(tt.catalog), &catalog); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			got := checkpointNames(catalog)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d names, got %d (%v)", len(tt.want), len(got), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("name %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}
