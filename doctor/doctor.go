// Package doctor runs non-interactive diagnostics over the pieces a
// recording depends on: log directory, microphone, encoder, backend, live
// channel and clipboard.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"echosketch/api"
	"echosketch/audio"
	"echosketch/capture"
	"echosketch/clipboard"
	"echosketch/live"
	"echosketch/log"
)

const (
	DefaultListen  = 2 * time.Second
	checkTimeout   = 5 * time.Second
	sampleInterval = 50 * time.Millisecond
)

// errSkipped marks a check that did not apply to this configuration.
var errSkipped = errors.New("skipped")

type Options struct {
	Out       io.Writer
	LogDir    string
	Audio     audio.Context
	Device    *audio.DeviceInfo // nil for the system default
	Format    string
	Listen    time.Duration // how long to record from the microphone
	Client    *api.Client
	SocketURL string // empty skips the live channel check
	Clipboard bool
}

type check struct {
	name string
	run  func(ctx context.Context, o *Options) (string, error)
}

var checks = []check{
	{"Log directory", checkLogDir},
	{"Microphone and encoder", checkMicrophone},
	{"Backend", checkBackend},
	{"Live channel", checkLive},
	{"Clipboard", checkClipboard},
}

// Run executes every check and returns an exit code (0=all pass, 1=any fail).
func Run(ctx context.Context, o Options) int {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Listen <= 0 {
		o.Listen = DefaultListen
	}

	fmt.Fprintln(o.Out, "echosketch doctor - system diagnostics")
	fmt.Fprintln(o.Out, "======================================")

	failed := 0
	for i, c := range checks {
		fmt.Fprintf(o.Out, "\n[%d/%d] %s\n", i+1, len(checks), c.name)
		msg, err := c.run(ctx, &o)
		switch {
		case errors.Is(err, errSkipped):
			fmt.Fprintf(o.Out, "  SKIP: %s\n", msg)
		case err != nil:
			failed++
			fmt.Fprintf(o.Out, "  FAIL: %v\n", err)
			log.Warnf("doctor: %s: %v", c.name, err)
		default:
			fmt.Fprintf(o.Out, "  PASS: %s\n", msg)
		}
		if ctx.Err() != nil {
			fmt.Fprintln(o.Out, "\nInterrupted")
			return 1
		}
	}

	fmt.Fprintln(o.Out)
	if failed > 0 {
		fmt.Fprintln(o.Out, "Some checks failed. See details above.")
		return 1
	}
	fmt.Fprintln(o.Out, "All checks passed!")
	return 0
}

func checkLogDir(_ context.Context, o *Options) (string, error) {
	if o.LogDir == "" {
		return "no log directory configured", errSkipped
	}
	if err := os.MkdirAll(o.LogDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(o.LogDir, ".doctor-*")
	if err != nil {
		return "", fmt.Errorf("%s not writable: %w", o.LogDir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return o.LogDir + " is writable", nil
}

// checkMicrophone records for o.Listen through the same session and level
// monitor a real recording uses, then finalizes the encoded artifact.
func checkMicrophone(ctx context.Context, o *Options) (string, error) {
	if o.Audio == nil {
		return "no audio context", errSkipped
	}
	devices, err := o.Audio.Devices()
	if err != nil {
		return "", fmt.Errorf("cannot list devices: %w", err)
	}
	if len(devices) == 0 {
		return "", errors.New("no capture devices found")
	}

	session := capture.NewSession(o.Audio, capture.SessionOptions{Device: o.Device, Format: o.Format})
	stream, err := session.Acquire(audio.DefaultConstraints())
	if err != nil {
		return "", err
	}
	defer session.Release()

	monitor := capture.NewLevelMonitor()
	analyser, err := monitor.Attach(stream)
	if err != nil {
		return "", err
	}
	defer monitor.Detach(stream, analyser)
	if err := session.StartEncoding(stream); err != nil {
		return "", err
	}

	fmt.Fprintf(o.Out, "  Recording from %s for %s, speak now", stream.DeviceName(), o.Listen)
	peak := 0.0
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	deadline := time.After(o.Listen)
	dots := 0
loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(o.Out)
			return "", ctx.Err()
		case <-deadline:
			break loop
		case <-ticker.C:
			peak = max(peak, monitor.SampleOnce(analyser))
			if dots++; dots%10 == 0 {
				fmt.Fprint(o.Out, ".")
			}
		}
	}
	fmt.Fprintln(o.Out, " done")

	art, err := session.Finalize()
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("%.1fs of %s (%.1f KB), peak level %.2f (%s)",
		art.Duration.Seconds(), art.MimeType, float64(len(art.Data))/1024, peak, string(capture.Tier(peak)))
	if peak == 0 {
		return "", fmt.Errorf("captured only silence: %s", msg)
	}
	return msg, nil
}

func checkBackend(ctx context.Context, o *Options) (string, error) {
	if o.Client == nil {
		return "no backend configured", errSkipped
	}
	hctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	h, err := o.Client.Health(hctx)
	if err != nil {
		return "", err
	}
	status := h.Status
	if status == "" {
		status = "up"
	}
	m := o.Client.LastMetrics()
	for _, line := range api.FormatMetrics(m) {
		fmt.Fprintf(o.Out, "  %s\n", line)
	}
	return fmt.Sprintf("%s is %s (%dms)", o.Client.BaseURL(), status, m.Total.Milliseconds()), nil
}

// checkLive dials the live channel and waits for the server's greeting.
func checkLive(ctx context.Context, o *Options) (string, error) {
	if o.SocketURL == "" {
		return "live channel disabled", errSkipped
	}
	lctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	c, err := live.Dial(lctx, o.SocketURL)
	if err != nil {
		return "", err
	}
	defer c.Close()

	select {
	case ev, ok := <-c.Events():
		if !ok {
			return "", fmt.Errorf("connection closed: %v", c.Err())
		}
		if e, isErr := ev.(live.Error); isErr {
			return "", fmt.Errorf("server error: %s", e.Message)
		}
		return fmt.Sprintf("%s answered with %q", o.SocketURL, ev.Name()), nil
	case <-lctx.Done():
		return "", fmt.Errorf("no greeting from %s", o.SocketURL)
	}
}

func checkClipboard(ctx context.Context, o *Options) (string, error) {
	if !o.Clipboard {
		return "clipboard check disabled", errSkipped
	}
	testStr := fmt.Sprintf("echosketch-doctor-%d", time.Now().UnixNano())

	type cbResult struct {
		readback string
		err      error
		phase    string
	}
	ch := make(chan cbResult, 1)
	go func() {
		if err := clipboard.Copy(testStr); err != nil {
			ch <- cbResult{err: err, phase: "write"}
			return
		}
		got, err := clipboard.Read()
		if err != nil {
			ch <- cbResult{err: err, phase: "read"}
			return
		}
		ch <- cbResult{readback: got}
	}()

	select {
	case res := <-ch:
		if errors.Is(res.err, clipboard.ErrUnsupported) {
			return "no clipboard utility found", errSkipped
		}
		if res.err != nil {
			return "", fmt.Errorf("clipboard %s failed: %w", res.phase, res.err)
		}
		if res.readback != testStr {
			return "", fmt.Errorf("clipboard mismatch: wrote %q, got %q", testStr, res.readback)
		}
		return "clipboard write/read verified", nil
	case <-time.After(3 * time.Second):
		return "", errors.New("clipboard timed out (clipboard tool hung, compositor not accessible?)")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
