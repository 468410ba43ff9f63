package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/transcript"
)

func testCodebook() *codebook.Codebook {
	return &codebook.Codebook{
		Categories: []string{"Discursive", "Conceptual"},
		Features: map[string][]codebook.FeatureDef{
			"Discursive": {{Code: "A"}, {Code: "B"}},
			"Conceptual": {{Code: "X"}},
		},
	}
}

func testLines(n int) []transcript.Line {
	lines := make([]transcript.Line, n)
	for i := range lines {
		lines[i] = transcript.Line{RowIndex: i, LineNumber: i + 1, Speaker: "T", Utterance: "hello", Selectable: true}
	}
	return lines
}

func newTestClient(url string, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithEndpoint(url),
		WithRateLimit(0),
		WithRetry(time.Millisecond, 200*time.Millisecond),
	}
	return NewClient(append(base, opts...)...)
}

// echoHandler marks feature A true on every even line of the batch.
func echoHandler(t *testing.T, calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		ann := importer.LLMAnnotations{"Discursive": {}}
		for _, l := range req.TranscriptData {
			ann["Discursive"][strconv.Itoa(l.LineNumber)] = map[string]any{"A": l.LineNumber%2 == 0, "B": false}
		}
		json.NewEncoder(w).Encode(Response{Success: true, Annotations: ann})
	}
}

func TestAnnotate_Batches(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var offsets []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		offsets = append(offsets, req.StartLineOffset)
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if req.SystemPrompt != DefaultSystemPrompt {
			t.Errorf("SystemPrompt = %q, want default", req.SystemPrompt)
		}
		calls.Add(1)
		ann := importer.LLMAnnotations{"Discursive": {}}
		for _, l := range req.TranscriptData {
			ann["Discursive"][strconv.Itoa(l.LineNumber)] = map[string]any{"A": true}
		}
		json.NewEncoder(w).Encode(Response{Success: true, Annotations: ann})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithAPIKey("secret"))
	run, err := c.Annotate(context.Background(), Job{TranscriptID: "t1", Codebook: testCodebook(), Lines: testLines(45)})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if calls.Load() != 3 || run.Batches != 3 {
		t.Errorf("calls = %d, batches = %d, want 3", calls.Load(), run.Batches)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(offsets) != 3 || offsets[0] != 0 || offsets[1] != 20 || offsets[2] != 40 {
		t.Errorf("startLineOffsets = %v", offsets)
	}
	if len(run.Annotations["Discursive"]) != 45 {
		t.Errorf("merged %d lines, want 45", len(run.Annotations["Discursive"]))
	}
	if len(run.ID) != 36 {
		t.Errorf("run id %q is not a uuid", run.ID)
	}
}

func TestAnnotate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	echo := echoHandler(t, &atomic.Int32{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		echo(w, r)
	}))
	defer srv.Close()

	run, err := newTestClient(srv.URL).Annotate(context.Background(), Job{Codebook: testCodebook(), Lines: testLines(4)})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (two retries)", calls.Load())
	}
	if run.Annotations["Discursive"]["2"]["A"] != true {
		t.Errorf("annotations = %v", run.Annotations)
	}
}

func TestAnnotate_PermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name:    "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			check:   func(err error) bool { return errors.Is(err, ErrAuthError) },
		},
		{
			name: "provider failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(Response{Success: false, Error: "key not configured"})
			},
			check: func(err error) bool {
				var apiErr *APIError
				return errors.As(err, &apiErr) && apiErr.Message == "key not configured"
			},
		},
		{
			name:    "garbage",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) },
			check:   func(err error) bool { return errors.Is(err, ErrInvalidResponse) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			run, err := newTestClient(srv.URL).Annotate(context.Background(), Job{Codebook: testCodebook(), Lines: testLines(3)})
			if err == nil || !tt.check(err) {
				t.Fatalf("Annotate() error = %v", err)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, permanent failures must not retry", calls.Load())
			}
			if run == nil || len(run.Failed) != 1 {
				t.Errorf("run = %+v, want one failed batch", run)
			}
		})
	}
}

func TestAnnotate_PartialFailureContinues(t *testing.T) {
	echo := echoHandler(t, &atomic.Int32{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req Request
		json.Unmarshal(body, &req)
		if req.StartLineOffset == 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		echo(w, r)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithBatchSize(2))
	run, err := c.Annotate(context.Background(), Job{Codebook: testCodebook(), Lines: testLines(5)})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if len(run.Failed) != 1 || run.Failed[0].FirstLine != 3 || run.Failed[0].LastLine != 4 {
		t.Errorf("Failed = %+v, want lines 3-4", run.Failed)
	}
	if len(run.Annotations["Discursive"]) != 3 {
		t.Errorf("annotated lines = %d, want 3", len(run.Annotations["Discursive"]))
	}
}

func TestAnnotate_NoEndpoint(t *testing.T) {
	if _, err := NewClient().Annotate(context.Background(), Job{Codebook: testCodebook()}); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("error = %v, want ErrNoEndpoint", err)
	}
}

func TestFilterCodebook(t *testing.T) {
	cb := testCodebook()
	got := FilterCodebook(cb, map[string][]string{"Discursive": {"B"}})
	if len(got.Categories) != 1 || got.Categories[0] != "Discursive" {
		t.Fatalf("categories = %v", got.Categories)
	}
	if len(got.Features["Discursive"]) != 1 || got.Features["Discursive"][0].Code != "B" {
		t.Errorf("features = %+v", got.Features)
	}
	if FilterCodebook(cb, nil) != cb {
		t.Error("nil selection should return the codebook as is")
	}
}

func TestRun_AnnotatorData(t *testing.T) {
	run := &Run{
		ID:       "0123456789abcdef",
		Provider: "claude",
		Batches:  1,
		Annotations: importer.LLMAnnotations{
			"Discursive": {"1": {"A": true, "Q": false}},
		},
	}
	data, warnings, err := run.AnnotatorData(nil, testCodebook())
	if err != nil {
		t.Fatalf("AnnotatorData() error = %v", err)
	}
	if data.AnnotatorID != "llm-claude-01234567" || data.Source != importer.SourceLLM {
		t.Errorf("data = %+v", data)
	}
	if !data.Value(1, "Discursive", "A").IsTrue() || !data.Value(1, "Discursive", "Q").IsFalse() {
		t.Error("values not converted")
	}
	if len(warnings) != 1 || warnings[0].Feature != "Q" {
		t.Errorf("warnings = %v, want unknown feature Q", warnings)
	}
}

func TestNewClient_BatchSizeByProvider(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want int
	}{
		{"default", nil, DefaultBatchSize},
		{"claude", []ClientOption{WithProvider("claude")}, ClaudeBatchSize},
		{"explicit wins", []ClientOption{WithProvider("claude"), WithBatchSize(5)}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewClient(tt.opts...).batchSize; got != tt.want {
				t.Errorf("batchSize = %d, want %d", got, tt.want)
			}
		})
	}
}
