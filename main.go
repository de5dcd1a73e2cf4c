package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"echosketch/api"
	"echosketch/audio"
	"echosketch/beep"
	"echosketch/capture"
	"echosketch/config"
	"echosketch/doctor"
	"echosketch/history"
	"echosketch/live"
	"echosketch/log"
	"echosketch/shutdown"
)

var version = "dev"

const (
	drainTimeout  = 5 * time.Second
	healthTimeout = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args, os.Stderr)
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if cfg.Version {
		fmt.Printf("echosketch %s\n", version)
		return 0
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if cfg.Doctor {
		return runDoctor(ctx, cfg)
	}
	if !cfg.Beep || cfg.Test {
		beep.Disable()
	}

	settings, err := config.LoadSettings("")
	if err != nil {
		log.Warnf("settings: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}

	// The store stays open while history is off so the setting can be
	// switched on mid-session; writes are gated in app.Generated.
	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = history.DefaultPath()
	}
	store, err := history.Open(historyPath)
	if err != nil {
		log.Errorf("history: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: history disabled: %v\n", err)
		store = nil
	} else {
		defer store.Close()
	}

	a := newApp(settings, "", cfg.ImagesDir, store)
	client := api.New(cfg.APIURL, api.Options{Timeout: cfg.Timeout, VoiceTimeout: cfg.VoiceTimeout})
	go client.Warm()

	var actx audio.Context
	if cfg.Test {
		if len(cfg.Args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: echosketch -test <wav-file>")
			return 2
		}
		fake, err := audio.NewFakeContext(cfg.Args[0], true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			return 1
		}
		actx = fake
	} else {
		actx, err = audio.NewContext()
		if err != nil {
			log.Errorf("audio context init error: %v", err)
			fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
			return 1
		}
	}
	defer actx.Close()

	device, err := pickDevice(actx, cfg)
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: %v, falling back to default device\n", err)
		device = nil
	}

	session := capture.NewSession(actx, capture.SessionOptions{Device: device, Format: cfg.Format})
	ctrl := capture.New(capture.Options{
		Session:      session,
		Events:       a,
		Backend:      client,
		Constraints:  audio.DefaultConstraints(),
		VoiceTimeout: cfg.VoiceTimeout,
		TextTimeout:  cfg.Timeout,
	})

	mode := "tui"
	switch {
	case cfg.Test:
		mode = "test"
	case !cfg.TUI:
		mode = "headless"
	}
	log.SessionStart(cfg.APIURL, mode, cfg.Format)

	code := 0
	if mode == "tui" {
		code = runTUI(ctx, cfg, a, ctrl, client, deviceLabel(device))
	} else {
		sink := &lineSink{out: os.Stdout}
		a.setSink(sink)
		go checkHealth(ctx, client, a)
		go followLive(ctx, cfg.SocketURL, a)
		if err := runScript(ctx, os.Stdin, sink, ctrl, a, client); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = 1
		}
	}

	ctrl.Close()
	dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	if err := ctrl.Wait(dctx); err != nil {
		log.Warnf("shutdown: %v", err)
	}
	cancel()
	log.SessionEnd(a.Count())
	return code
}

func runTUI(ctx context.Context, cfg *config.Config, a *app, ctrl *capture.Controller, client *api.Client, device string) int {
	header := client.BaseURL() + " · mic: " + device
	p := tea.NewProgram(newTUIModel(ctx, ctrl, a, header), tea.WithAltScreen(), tea.WithContext(ctx))
	a.setSink(tuiSink{p: p})
	go checkHealth(ctx, client, a)
	go followLive(ctx, cfg.SocketURL, a)

	_, err := p.Run()
	a.setSink(nopSink{})
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runDoctor(ctx context.Context, cfg *config.Config) int {
	actx, err := audio.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		actx = nil
	} else {
		defer actx.Close()
	}
	opts := doctor.Options{
		Out:       os.Stdout,
		LogDir:    log.Dir(),
		Format:    cfg.Format,
		Client:    api.New(cfg.APIURL, api.Options{Timeout: cfg.Timeout, VoiceTimeout: cfg.VoiceTimeout}),
		SocketURL: cfg.SocketURL,
		Clipboard: true,
	}
	if actx != nil {
		opts.Audio = actx
		if opts.Device, err = pickDevice(actx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v, falling back to default device\n", err)
		}
	}
	return doctor.Run(ctx, opts)
}

func pickDevice(actx audio.Context, cfg *config.Config) (*audio.DeviceInfo, error) {
	if cfg.Device != "" {
		return audio.FindDevice(actx, cfg.Device)
	}
	if cfg.Setup && !cfg.Test {
		return audio.SelectDevice(actx)
	}
	return nil, nil
}

func deviceLabel(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "system default"
	}
	if audio.IsBluetooth(dev.Name) {
		return dev.Name + " (BT!)"
	}
	return dev.Name
}

func checkHealth(ctx context.Context, client *api.Client, a *app) {
	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	h, err := client.Health(hctx)
	if err != nil {
		log.Warnf("health check: %v", err)
		a.display().Notice("backend unreachable: "+err.Error(), true)
		return
	}
	log.Infof("backend %s", h.Status)
}

// followLive keeps the live channel open until ctx ends, reconnecting with
// backoff when the server drops it.
func followLive(ctx context.Context, url string, a *app) {
	if url == "" {
		return
	}
	backoff := time.Second
	for ctx.Err() == nil {
		c, err := live.Dial(ctx, url)
		if err != nil {
			log.Warnf("%v", err)
		} else {
			backoff = time.Second
			consumeLive(ctx, c, a)
			if err := c.Err(); err != nil {
				log.Warnf("live channel: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, 30*time.Second)
	}
}

func consumeLive(ctx context.Context, c *live.Client, a *app) {
	defer c.Close()
	a.setLive(c)
	defer a.setLive(nil)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.Events():
			if !ok {
				return
			}
			a.Live(ev)
		}
	}
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}
