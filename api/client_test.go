package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"echosketch/capture"
)

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	got := m.Sum()
	want := 195 * time.Millisecond
	if got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
	if lines := FormatMetrics(*m); len(lines) != 9 || !strings.HasPrefix(lines[len(lines)-1], "total:") {
		t.Errorf("FormatMetrics = %q", lines)
	}
}

func TestProcessVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/process-voice" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("missing audio field: %v", err)
			http.Error(w, `{"error":"No audio file provided"}`, 400)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "recording.webm" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "audio/webm" {
			t.Errorf("part content type = %q", ct)
		}
		if string(data) != "webm-bytes" {
			t.Errorf("payload = %q", data)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"session_id": "voice_session_1",
			"transcript": "a castle on a hill",
			"image_data": map[string]any{
				"success":    true,
				"image_data": "data:image/png;base64,iVBORw0KGgo=",
				"service":    "dalle",
			},
			"visual_concepts": map[string]any{"objects": []string{"castle", "hill"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, Options{})
	g, err := c.ProcessVoice(context.Background(), capture.Artifact{
		Data:     []byte("webm-bytes"),
		MimeType: "audio/webm",
		Filename: "recording.webm",
	})
	if err != nil {
		t.Fatalf("ProcessVoice: %v", err)
	}
	if !g.Success || g.SessionID != "voice_session_1" || g.Transcript != "a castle on a hill" {
		t.Errorf("generation = %+v", g)
	}
	if g.Image.Service != "dalle" || !strings.HasPrefix(g.Image.DataURL, "data:image/png") {
		t.Errorf("image = %+v", g.Image)
	}
	if !strings.Contains(string(g.VisualConcepts), "castle") {
		t.Errorf("visual concepts = %s", g.VisualConcepts)
	}
	if c.LastMetrics().Total <= 0 {
		t.Error("metrics not recorded")
	}
}

func TestTextToImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/text-to-image" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var body struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		// Older backends send the image as a bare data URL.
		json.NewEncoder(w).Encode(map[string]any{
			"success":         true,
			"session_id":      "session_1_1700000000",
			"transcript":      body.Text,
			"image_data":      "data:image/svg+xml;base64,PHN2Zy8+",
			"enhanced_prompt": "A vibrant peaceful image featuring boat",
			"processing_time": 0.42,
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", Options{})
	g, err := c.TextToImage(context.Background(), "a boat")
	if err != nil {
		t.Fatalf("TextToImage: %v", err)
	}
	if g.Transcript != "a boat" || g.EnhancedPrompt == "" || g.ProcessingTime != 0.42 {
		t.Errorf("generation = %+v", g)
	}
	data, ext, err := g.Image.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ext != "svg" || string(data) != "<svg/>" {
		t.Errorf("decoded %q as %s", data, ext)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error field", 400, `{"error": "No text provided"}`, "400: No text provided"},
		{"message field", 503, `{"message": "busy"}`, "503: busy"},
		{"not json", 502, `<html>bad gateway</html>`, "502: Server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL, Options{}).TextToImage(context.Background(), "x")
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if err.Error() != tt.want {
				t.Errorf("err = %q, want %q", err, tt.want)
			}
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, Options{}).Health(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, Options{Timeout: 50 * time.Millisecond})
	_, err := c.TextToImage(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestSessionsAndSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sessions":
			if r.URL.Query().Get("limit") != "10" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			io.WriteString(w, `[{"id":"s2","transcript":"two","timestamp":"2025-01-02T00:00:00"},{"id":"s1","transcript":"one"}]`)
		case "/api/sessions/s 1":
			io.WriteString(w, `{"id":"s 1","transcript":"one"}`)
		case "/api/search":
			if r.URL.Query().Get("q") != "red fox" || r.URL.Query().Get("limit") != "5" {
				t.Errorf("query = %v", r.URL.Query())
			}
			io.WriteString(w, `[{"id":"s3","transcript":"a red fox"}]`)
		case "/api/stats":
			io.WriteString(w, `{"total_sessions":3,"total_images":3,"recent_activity":1}`)
		case "/health":
			io.WriteString(w, `{"status":"healthy"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, Options{})
	ctx := context.Background()

	recent, err := c.RecentSessions(ctx, 0)
	if err != nil || len(recent) != 2 || recent[0].ID != "s2" {
		t.Errorf("RecentSessions = %+v, %v", recent, err)
	}
	s, err := c.Session(ctx, "s 1")
	if err != nil || s.Transcript != "one" {
		t.Errorf("Session = %+v, %v", s, err)
	}
	found, err := c.Search(ctx, "red fox", 5)
	if err != nil || len(found) != 1 {
		t.Errorf("Search = %+v, %v", found, err)
	}
	stats, err := c.Stats(ctx)
	if err != nil || stats.TotalSessions != 3 {
		t.Errorf("Stats = %+v, %v", stats, err)
	}
	h, err := c.Health(ctx)
	if err != nil || h.Status != "healthy" {
		t.Errorf("Health = %+v, %v", h, err)
	}
	if _, err := c.Session(ctx, "missing"); err == nil || !strings.HasPrefix(err.Error(), "404") {
		t.Errorf("missing session err = %v", err)
	}
}
