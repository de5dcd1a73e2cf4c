// Package config resolves command-line flags, environment overrides and the
// persisted settings file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"echosketch/api"
	"echosketch/encoder"
	"echosketch/live"
)

const (
	EnvAPIURL    = "ECHOSKETCH_API_URL"
	EnvSocketURL = "ECHOSKETCH_SOCKET_URL"
)

// ErrHelp is returned by Load when -h or -help was given.
var ErrHelp = flag.ErrHelp

type Config struct {
	APIURL       string
	SocketURL    string // empty disables the live channel
	Device       string
	Setup        bool
	Format       string
	HistoryPath  string
	ImagesDir    string
	LogPath      string
	TUI          bool
	Test         bool
	Version      bool
	NoLive       bool
	Beep         bool
	Doctor       bool
	VoiceTimeout time.Duration
	Timeout      time.Duration
	Args         []string // positional, e.g. the WAV file for -test
}

// Load parses args (without the program name). Flags win over environment
// variables, which win over defaults.
func Load(args []string, stderr io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("echosketch", flag.ContinueOnError)
	if stderr != nil {
		fs.SetOutput(stderr)
	}
	c := &Config{}
	fs.StringVar(&c.APIURL, "api", "", "Backend base URL (default $"+EnvAPIURL+" or "+api.DefaultBaseURL+")")
	fs.StringVar(&c.SocketURL, "socket", "", "Live channel URL (default $"+EnvSocketURL+" or derived from -api)")
	fs.BoolVar(&c.NoLive, "nolive", false, "Do not connect the live channel")
	fs.StringVar(&c.Device, "device", "", "Use named microphone device")
	fs.BoolVar(&c.Setup, "setup", false, "Select microphone device (otherwise uses system default)")
	fs.StringVar(&c.Format, "format", encoder.FormatWebM, "Recording format: webm or flac")
	fs.StringVar(&c.HistoryPath, "history", "", "History database path (default: OS-specific location)")
	fs.StringVar(&c.ImagesDir, "images", "", "Directory for saved images (default: ./echosketch-images)")
	fs.StringVar(&c.LogPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.BoolVar(&c.TUI, "tui", true, "Run with terminal UI")
	fs.BoolVar(&c.Test, "test", false, "Test mode (headless, stdin-driven)")
	fs.BoolVar(&c.Beep, "beep", true, "Play audio cues on recording start and stop")
	fs.BoolVar(&c.Doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&c.Version, "version", false, "Print version and exit")
	fs.DurationVar(&c.VoiceTimeout, "voice-timeout", api.DefaultVoiceTimeout, "Voice upload timeout")
	fs.DurationVar(&c.Timeout, "timeout", api.DefaultTimeout, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	c.Args = fs.Args()

	if c.APIURL == "" {
		c.APIURL = envOr(EnvAPIURL, api.DefaultBaseURL)
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.NoLive {
		c.SocketURL = ""
	} else {
		if c.SocketURL == "" {
			c.SocketURL = os.Getenv(EnvSocketURL)
		}
		if c.SocketURL == "" {
			c.SocketURL = c.APIURL
		}
		u, err := live.SocketURL(c.SocketURL)
		if err != nil {
			return nil, fmt.Errorf("-socket: %w", err)
		}
		c.SocketURL = u
	}

	if err := encoder.ValidFormat(c.Format); err != nil {
		return nil, fmt.Errorf("-format: %w", err)
	}
	if c.VoiceTimeout <= 0 || c.Timeout <= 0 {
		return nil, errors.New("timeouts must be positive")
	}
	if c.ImagesDir == "" {
		c.ImagesDir = "echosketch-images"
	}
	return c, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
