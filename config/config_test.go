package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvSocketURL, "")

	c, err := Load(nil, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.APIURL != "http://localhost:5000" {
		t.Errorf("APIURL = %q", c.APIURL)
	}
	if c.SocketURL != "ws://localhost:5000/ws" {
		t.Errorf("SocketURL = %q", c.SocketURL)
	}
	if c.Format != "webm" || !c.TUI || c.Test || !c.Beep || c.Doctor {
		t.Errorf("defaults = %+v", c)
	}
	if c.VoiceTimeout != 60*time.Second || c.Timeout != 30*time.Second {
		t.Errorf("timeouts = %v / %v", c.VoiceTimeout, c.Timeout)
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://env.example.com/")
	t.Setenv(EnvSocketURL, "")

	c, err := Load(nil, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.APIURL != "https://env.example.com" || c.SocketURL != "wss://env.example.com/ws" {
		t.Errorf("env: api=%q socket=%q", c.APIURL, c.SocketURL)
	}

	t.Setenv(EnvSocketURL, "ws://push.example.com:9000/live")
	c, err = Load([]string{"-api", "http://flag:1", "-format", "flac", "-test", "in.wav"}, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.APIURL != "http://flag:1" {
		t.Errorf("flag should win: %q", c.APIURL)
	}
	if c.SocketURL != "ws://push.example.com:9000/live" {
		t.Errorf("SocketURL = %q", c.SocketURL)
	}
	if c.Format != "flac" || !c.Test || len(c.Args) != 1 || c.Args[0] != "in.wav" {
		t.Errorf("parsed = %+v", c)
	}

	c, err = Load([]string{"-beep=false", "-doctor", "-nolive"}, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Beep || !c.Doctor || c.SocketURL != "" {
		t.Errorf("parsed = %+v", c)
	}

	c, err = Load([]string{"-nolive"}, io.Discard)
	if err != nil || c.SocketURL != "" {
		t.Errorf("-nolive: socket=%q err=%v", c.SocketURL, err)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvSocketURL, "")
	tests := []struct {
		name string
		args []string
	}{
		{"format", []string{"-format", "mp3"}},
		{"socket scheme", []string{"-socket", "ftp://x"}},
		{"timeout", []string{"-timeout", "0s"}},
		{"unknown flag", []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.args, io.Discard); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load([]string{"-h"}, io.Discard); !errors.Is(err, ErrHelp) {
		t.Errorf("-h err = %v, want ErrHelp", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "settings.json")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings missing file: %v", err)
	}
	if s != DefaultSettings() {
		t.Errorf("missing file = %+v, want defaults", s)
	}

	s = s.CycleStyle().CycleSize()
	s.AutoSave = false
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	want := Settings{ImageStyle: "realistic", ImageSize: "1024x1024", EnableHistory: true, AutoSave: false}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSettingsInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"image_style":"oil","image_size":"512x512"}`), 0o644)
	if s, err := LoadSettings(bad); err == nil || s != DefaultSettings() {
		t.Errorf("invalid style: %+v, %v", s, err)
	}
	os.WriteFile(bad, []byte(`{`), 0o644)
	if _, err := LoadSettings(bad); err == nil {
		t.Error("malformed JSON should fail")
	}
	s := DefaultSettings()
	s.ImageSize = "9x9"
	if err := s.Save(filepath.Join(dir, "x.json")); err == nil {
		t.Error("Save should reject invalid size")
	}
}

func TestCycleWraps(t *testing.T) {
	s := DefaultSettings()
	for range len(ImageStyles) {
		s = s.CycleStyle()
	}
	if s.ImageStyle != "illustration" {
		t.Errorf("after full cycle style = %q", s.ImageStyle)
	}
}

func TestSettingsPathXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG layout is linux only")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := SettingsPath(); got != "/tmp/xdg/echosketch/settings.json" {
		t.Errorf("SettingsPath = %q", got)
	}
}
