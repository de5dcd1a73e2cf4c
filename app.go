package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"echosketch/beep"
	"echosketch/capture"
	"echosketch/config"
	"echosketch/history"
	"echosketch/live"
	"echosketch/log"
)

var errNoHistory = errors.New("history is unavailable")

// emitter publishes events on the live channel.
type emitter interface {
	Emit(event string, data any) error
}

// app receives controller notifications, persists what they produce and
// forwards them to the active display.
type app struct {
	imagesDir    string
	settingsPath string
	store        *history.Store // nil when the database could not be opened

	mu       sync.Mutex
	sink     EventSink
	channel  emitter // current live channel, nil while disconnected
	settings config.Settings
	voice    *capture.Artifact // finalized recording awaiting its generation
	last     *Result
	count    int
}

func newApp(settings config.Settings, settingsPath, imagesDir string, store *history.Store) *app {
	return &app{
		imagesDir:    imagesDir,
		settingsPath: settingsPath,
		store:        store,
		sink:         nopSink{},
		settings:     settings,
	}
}

func (a *app) setSink(s EventSink) {
	a.mu.Lock()
	a.sink = s
	a.mu.Unlock()
	a.publishHistory()
}

func (a *app) setLive(e emitter) {
	a.mu.Lock()
	a.channel = e
	a.mu.Unlock()
}

func (a *app) display() EventSink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}

func (a *app) Settings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// UpdateSettings applies fn and persists the result.
func (a *app) UpdateSettings(fn func(config.Settings) config.Settings) (config.Settings, error) {
	a.mu.Lock()
	s := fn(a.settings)
	a.settings = s
	a.mu.Unlock()
	if err := s.Save(a.settingsPath); err != nil {
		log.Warnf("save settings: %v", err)
		return s, err
	}
	return s, nil
}

func (a *app) Last() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Result{}, false
	}
	return *a.last, true
}

// ClearSession forgets the current result; history is untouched.
func (a *app) ClearSession() {
	a.mu.Lock()
	a.last = nil
	a.mu.Unlock()
}

func (a *app) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *app) RecordingStarted() {
	beep.Play(beep.Start)
	a.display().Notice("recording", false)
}

func (a *app) RecordingStopped(elapsed int) {
	beep.Play(beep.Stop)
	a.display().Notice("stopped at "+capture.FormatElapsed(elapsed), false)
}

func (a *app) Finalized(art capture.Artifact) {
	a.mu.Lock()
	a.voice = &art
	ch := a.channel
	a.mu.Unlock()
	if ch != nil {
		err := ch.Emit("voice_stream", map[string]any{
			"mime_type":   art.MimeType,
			"size":        len(art.Data),
			"duration_ms": art.Duration.Milliseconds(),
		})
		if err != nil {
			log.Warnf("live: %v", err)
		}
	}
	a.display().Notice(fmt.Sprintf("captured %.1fs of audio (%s, %d KB)",
		art.Duration.Seconds(), art.MimeType, len(art.Data)/1024), false)
}

func (a *app) Generated(g capture.Generation) {
	a.mu.Lock()
	settings := a.settings
	r := Result{Generation: g, Mode: capture.Text}
	if a.voice != nil {
		r.Mode = capture.Voice
		r.Audio = a.voice.Duration
		a.voice = nil
	}
	a.mu.Unlock()

	if settings.AutoSave {
		path, err := a.saveImage(g)
		if err != nil {
			log.Warnf("save image: %v", err)
			a.display().Notice("could not save image: "+err.Error(), true)
		}
		r.ImagePath = path
	}

	if a.store != nil && settings.EnableHistory {
		_, err := a.store.Add(history.Entry{
			ID:             g.SessionID,
			Mode:           r.Mode.String(),
			Transcript:     g.Transcript,
			EnhancedPrompt: g.EnhancedPrompt,
			Service:        g.Image.Service,
			ImagePath:      r.ImagePath,
			Duration:       r.Audio,
		})
		if err != nil {
			log.Errorf("history: %v", err)
		}
	}

	a.mu.Lock()
	a.last = &r
	a.count++
	a.mu.Unlock()

	a.display().Result(r)
	a.publishHistory()
}

func (a *app) Failed(err error) {
	a.mu.Lock()
	a.voice = nil
	a.mu.Unlock()
	beep.Play(beep.Error)
	a.display().Notice(describeError(err), true)
}

func (a *app) Rejected(reason string) {
	a.display().Notice(reason, true)
}

func (a *app) Silence(ev capture.SilenceEvent) {
	switch ev {
	case capture.SilenceWarn, capture.SilenceRepeat:
		beep.Play(beep.Error)
		a.display().Notice("no voice detected, check your microphone", true)
	case capture.SilenceWarnClear:
		a.display().Notice("voice detected", false)
	}
}

// Live forwards a live-channel event as a notice.
func (a *app) Live(ev live.Event) {
	switch e := ev.(type) {
	case live.Connected:
		a.display().Notice("live: "+e.Message, false)
	case live.Processing:
		a.display().Notice("live: "+e.Message, false)
	case live.StreamReceived:
		a.display().Notice("live: stream "+e.Status, false)
	case live.Error:
		a.display().Notice("live error: "+e.Message, true)
	default:
		log.Infof("live event %s", ev.Name())
	}
}

func (a *app) publishHistory() {
	if a.store == nil {
		return
	}
	entries, err := a.store.Recent(history.DefaultLimit)
	if err != nil {
		log.Errorf("history: %v", err)
		return
	}
	a.display().History(entries)
}

// SearchHistory returns stored sessions whose transcript or prompt
// contains query.
func (a *app) SearchHistory(query string) ([]history.Entry, error) {
	if a.store == nil {
		return nil, errNoHistory
	}
	return a.store.Search(query, history.DefaultLimit)
}

func (a *app) HistoryEntry(id string) (history.Entry, error) {
	if a.store == nil {
		return history.Entry{}, errNoHistory
	}
	return a.store.Get(id)
}

// ClearHistory removes every stored session.
func (a *app) ClearHistory() error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Clear(); err != nil {
		return err
	}
	a.publishHistory()
	return nil
}

func (a *app) saveImage(g capture.Generation) (string, error) {
	if g.Image.DataURL == "" {
		return "", nil
	}
	data, ext, err := g.Image.Decode()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.imagesDir, 0o755); err != nil {
		return "", err
	}
	name := g.SessionID
	if name == "" {
		name = time.Now().Format("20060102-150405")
	}
	path := filepath.Join(a.imagesDir, "echosketch-"+sanitize(name)+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// describeError turns controller errors into the one-line messages the UI
// shows.
func describeError(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "microphone permission denied"
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "no microphone available"
	case errors.Is(err, capture.ErrFinalizeFailed):
		return "recording failed: " + err.Error()
	case errors.Is(err, capture.ErrSubmissionFailed):
		return "generation failed: " + strings.TrimPrefix(err.Error(), capture.ErrSubmissionFailed.Error()+": ")
	}
	return err.Error()
}
