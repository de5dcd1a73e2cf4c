package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"echosketch/capture"
	"echosketch/config"
	"echosketch/history"
)

func newTestApp(t *testing.T, settings config.Settings) (*app, *history.Store, *recordingSink, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := history.Open(filepath.Join(dir, "history.sqlite"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	a := newApp(settings, filepath.Join(dir, "settings.json"), filepath.Join(dir, "images"), store)
	sink := &recordingSink{}
	a.setSink(sink)
	return a, store, sink, dir
}

func TestGeneratedVoiceThenText(t *testing.T) {
	a, store, sink, dir := newTestApp(t, config.DefaultSettings())

	a.Finalized(capture.Artifact{Data: []byte("webm"), MimeType: "audio/webm", Duration: 2 * time.Second})
	a.Generated(capture.Generation{
		Success:    true,
		SessionID:  "voice 1",
		Transcript: "a red fox",
		Image:      capture.Image{DataURL: imageURL("png-bytes"), Service: "stub"},
	})

	r, ok := a.Last()
	if !ok {
		t.Fatal("no result recorded")
	}
	if r.Mode != capture.Voice || r.Audio != 2*time.Second {
		t.Errorf("result = %+v", r)
	}
	wantPath := filepath.Join(dir, "images", "echosketch-voice_1.png")
	if r.ImagePath != wantPath {
		t.Errorf("ImagePath = %q, want %q", r.ImagePath, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil || string(data) != "png-bytes" {
		t.Errorf("saved image = %q, %v", data, err)
	}

	a.Generated(capture.Generation{Success: true, SessionID: "text_2", Transcript: "a blue whale"})
	r, _ = a.Last()
	if r.Mode != capture.Text || r.ImagePath != "" {
		t.Errorf("text result = %+v", r)
	}

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want 2", len(entries))
	}
	got, err := store.Get("voice 1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Mode != "voice" || got.Service != "stub" || got.ImagePath != wantPath || got.Duration != 2*time.Second {
		t.Errorf("voice entry = %+v", got)
	}

	if a.Count() != 2 || len(sink.results) != 2 {
		t.Errorf("count = %d, results = %d", a.Count(), len(sink.results))
	}
	// setSink plus one publish per generation
	if n := len(sink.history); n != 3 || len(sink.history[2]) != 2 {
		t.Errorf("history publishes = %d", n)
	}
}

func TestGeneratedRespectsSettings(t *testing.T) {
	s := config.DefaultSettings()
	s.AutoSave = false
	s.EnableHistory = false
	a, store, _, dir := newTestApp(t, s)

	a.Generated(capture.Generation{Success: true, SessionID: "s1", Image: capture.Image{DataURL: imageURL("x")}})

	if r, _ := a.Last(); r.ImagePath != "" {
		t.Errorf("image saved with auto-save off: %q", r.ImagePath)
	}
	if _, err := os.Stat(filepath.Join(dir, "images")); !os.IsNotExist(err) {
		t.Errorf("images dir created: %v", err)
	}
	if n, _ := store.Count(); n != 0 {
		t.Errorf("history has %d entries with history off", n)
	}
}

func TestGeneratedBadImage(t *testing.T) {
	a, _, sink, _ := newTestApp(t, config.DefaultSettings())
	a.Generated(capture.Generation{Success: true, SessionID: "s1", Image: capture.Image{DataURL: "https://example.com/x.png"}})

	if len(sink.errs) != 1 || !strings.HasPrefix(sink.errs[0], "could not save image") {
		t.Errorf("errors = %q", sink.errs)
	}
	if len(sink.results) != 1 {
		t.Error("result should still be shown")
	}
}

func TestFailedDropsPendingVoice(t *testing.T) {
	a, _, sink, _ := newTestApp(t, config.DefaultSettings())
	a.Finalized(capture.Artifact{Data: []byte("x"), Duration: time.Second})
	a.Failed(fmt.Errorf("%w: %w", capture.ErrSubmissionFailed, errors.New("HTTP 500")))
	a.Generated(capture.Generation{Success: true, SessionID: "t1"})

	if r, _ := a.Last(); r.Mode != capture.Text {
		t.Errorf("mode = %s after failed voice submission", r.Mode)
	}
	if len(sink.errs) != 1 || sink.errs[0] != "generation failed: HTTP 500" {
		t.Errorf("errors = %q", sink.errs)
	}
}

func TestClearSessionAndHistory(t *testing.T) {
	a, store, sink, _ := newTestApp(t, config.DefaultSettings())
	a.Generated(capture.Generation{Success: true, SessionID: "t1"})

	a.ClearSession()
	if _, ok := a.Last(); ok {
		t.Error("ClearSession kept the result")
	}
	if n, _ := store.Count(); n != 1 {
		t.Errorf("ClearSession touched history: %d entries", n)
	}

	if err := a.ClearHistory(); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if n, _ := store.Count(); n != 0 {
		t.Errorf("history has %d entries after clear", n)
	}
	if last := sink.history[len(sink.history)-1]; len(last) != 0 {
		t.Errorf("published %d entries after clear", len(last))
	}
}

func TestUpdateSettingsPersists(t *testing.T) {
	a, _, _, dir := newTestApp(t, config.DefaultSettings())
	s, err := a.UpdateSettings(config.Settings.CycleStyle)
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if s.ImageStyle != "realistic" || a.Settings().ImageStyle != "realistic" {
		t.Errorf("style = %q", s.ImageStyle)
	}
	loaded, err := config.LoadSettings(filepath.Join(dir, "settings.json"))
	if err != nil || loaded.ImageStyle != "realistic" {
		t.Errorf("persisted = %+v, %v", loaded, err)
	}
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: %w", capture.ErrPermissionDenied, errors.New("denied by user")), "microphone permission denied"},
		{fmt.Errorf("%w: no input", capture.ErrDeviceUnavailable), "no microphone available"},
		{fmt.Errorf("%w: no audio captured", capture.ErrFinalizeFailed), "recording failed: " + capture.ErrFinalizeFailed.Error() + ": no audio captured"},
		{fmt.Errorf("%w: %w", capture.ErrSubmissionFailed, errors.New("503: busy")), "generation failed: 503: busy"},
		{errors.New("plain"), "plain"},
	}
	for _, tt := range tests {
		if got := describeError(tt.err); got != tt.want {
			t.Errorf("describeError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"local_123", "local_123"},
		{"a b/c", "a_b_c"},
		{"../../etc", "______etc"},
		{"über-1", "_ber-1"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSilenceNotices(t *testing.T) {
	a, _, sink, _ := newTestApp(t, config.DefaultSettings())
	a.Silence(capture.SilenceWarn)
	a.Silence(capture.SilenceWarnClear)
	a.Silence(capture.SilenceNone)
	if len(sink.errs) != 1 || !strings.HasPrefix(sink.errs[0], "no voice detected") {
		t.Errorf("errors = %q", sink.errs)
	}
	if len(sink.notices) != 1 || sink.notices[0] != "voice detected" {
		t.Errorf("notices = %q", sink.notices)
	}
}

func TestHistoryToggledOnMidSession(t *testing.T) {
	settings := config.DefaultSettings()
	settings.EnableHistory = false
	a, store, _, _ := newTestApp(t, settings)

	a.Generated(capture.Generation{Success: true, SessionID: "off", Transcript: "not kept"})
	if _, err := a.UpdateSettings(func(s config.Settings) config.Settings {
		s.EnableHistory = true
		return s
	}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	a.Generated(capture.Generation{Success: true, SessionID: "on", Transcript: "kept"})

	entries, err := store.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "on" {
		t.Errorf("entries = %+v, want only %q", entries, "on")
	}
}

func TestSearchHistory(t *testing.T) {
	a, _, _, _ := newTestApp(t, config.DefaultSettings())
	for _, g := range []capture.Generation{
		{Success: true, SessionID: "s1", Transcript: "a red fox"},
		{Success: true, SessionID: "s2", Transcript: "a blue whale"},
	} {
		a.Generated(g)
	}

	found, err := a.SearchHistory("RED")
	if err != nil || len(found) != 1 || found[0].ID != "s1" {
		t.Errorf("SearchHistory = %+v, %v", found, err)
	}
	e, err := a.HistoryEntry("s2")
	if err != nil || e.Transcript != "a blue whale" {
		t.Errorf("HistoryEntry = %+v, %v", e, err)
	}
	if _, err := a.HistoryEntry("nope"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("HistoryEntry(nope) = %v, want ErrNotFound", err)
	}

	bare := newApp(config.DefaultSettings(), "", t.TempDir(), nil)
	if _, err := bare.SearchHistory("fox"); !errors.Is(err, errNoHistory) {
		t.Errorf("SearchHistory without store = %v", err)
	}
}

type fakeEmitter struct {
	events []string
	data   []any
	err    error
}

func (e *fakeEmitter) Emit(event string, data any) error {
	e.events = append(e.events, event)
	e.data = append(e.data, data)
	return e.err
}

func TestFinalizedAnnouncesOnLiveChannel(t *testing.T) {
	a, _, sink, _ := newTestApp(t, config.DefaultSettings())
	art := capture.Artifact{Data: make([]byte, 2048), MimeType: "audio/webm", Duration: 1500 * time.Millisecond}

	// no channel yet
	a.Finalized(art)

	ch := &fakeEmitter{}
	a.setLive(ch)
	a.Finalized(art)
	if len(ch.events) != 1 || ch.events[0] != "voice_stream" {
		t.Fatalf("events = %q", ch.events)
	}
	d := ch.data[0].(map[string]any)
	if d["mime_type"] != "audio/webm" || d["size"] != 2048 || d["duration_ms"] != int64(1500) {
		t.Errorf("data = %v", d)
	}

	// a failing channel does not disturb the display
	ch.err = errors.New("closed")
	a.Finalized(art)
	a.setLive(nil)
	a.Finalized(art)
	if len(ch.events) != 2 {
		t.Errorf("events = %q", ch.events)
	}
	if len(sink.errs) != 0 || len(sink.notices) != 4 {
		t.Errorf("notices = %q, errs = %q", sink.notices, sink.errs)
	}
}
