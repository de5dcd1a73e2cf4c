// Package capture records voice prompts: it acquires the microphone,
// meters its level, times the recording and produces the encoded artifact,
// all behind a single state machine the UI drives.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"echosketch/audio"
	"echosketch/log"
	"echosketch/sched"
)

const (
	DefaultVoiceTimeout = 60 * time.Second
	DefaultTextTimeout  = 30 * time.Second
)

type Options struct {
	Session     *Session
	Monitor     *LevelMonitor   // defaults to a new monitor
	Scheduler   sched.Scheduler // defaults to sched.Realtime
	Events      Events          // defaults to NopEvents
	Backend     Backend         // optional; submissions fail with ErrNoBackend without it
	Constraints audio.Constraints

	VoiceTimeout time.Duration
	TextTimeout  time.Duration
}

// Snapshot is what the UI reads on every refresh.
type Snapshot struct {
	State   State
	Mode    InputMode
	Level   float64
	Tier    LevelTier
	Elapsed int
	Busy    bool
}

// Controller is the recording state machine:
// Idle → Acquiring → Recording → Stopping → Idle.
//
// All transitions happen under mu. mu is never held across acquisition,
// finalize or backend calls; callbacks that run after those return
// re-check state and the recording generation before acting.
type Controller struct {
	session      *Session
	monitor      *LevelMonitor
	sched        sched.Scheduler
	clock        *Clock
	events       Events
	backend      Backend
	constraints  audio.Constraints
	voiceTimeout time.Duration
	textTimeout  time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup

	mu       sync.Mutex
	state    State
	mode     InputMode
	gen      uint64
	stream   *Stream
	analyser *Analyser
	frame    sched.Timer
	level    float64
	silence  *SilenceMonitor
	busy     bool
	closed   bool
}

func New(opts Options) *Controller {
	if opts.Monitor == nil {
		opts.Monitor = NewLevelMonitor()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = sched.Realtime{}
	}
	if opts.Events == nil {
		opts.Events = NopEvents{}
	}
	if opts.Constraints == (audio.Constraints{}) {
		opts.Constraints = audio.DefaultConstraints()
	}
	if opts.VoiceTimeout <= 0 {
		opts.VoiceTimeout = DefaultVoiceTimeout
	}
	if opts.TextTimeout <= 0 {
		opts.TextTimeout = DefaultTextTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		session:      opts.Session,
		monitor:      opts.Monitor,
		sched:        opts.Scheduler,
		clock:        NewClock(opts.Scheduler),
		events:       opts.Events,
		backend:      opts.Backend,
		constraints:  opts.Constraints,
		voiceTimeout: opts.VoiceTimeout,
		textTimeout:  opts.TextTimeout,
		baseCtx:      ctx,
		cancelBase:   cancel,
	}
}

// Start acquires the microphone and begins recording. It blocks until
// acquisition settles. On failure the controller is back in Idle with
// nothing held, and the error is both returned and reported once. Errors
// other than the acquisition sentinels wrap ErrStartFailed.
func (c *Controller) Start() error {
	c.mu.Lock()
	var err error
	switch {
	case c.closed:
		err = ErrClosed
	case c.mode == Text:
		err = ErrTextMode
	case c.state != Idle:
		err = ErrAlreadyActive
	case c.busy:
		err = ErrBusy
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = Acquiring
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	stream, err := c.session.Acquire(c.constraints)
	if err != nil {
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		log.Errorf("microphone acquisition failed: %v", err)
		if !IsAcquisitionError(err) {
			err = fmt.Errorf("%w: %w", ErrStartFailed, err)
		}
		c.events.Failed(err)
		return err
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.state = Idle
		c.mu.Unlock()
		c.session.Release()
		return ErrClosed
	}
	analyser, err := c.monitor.Attach(stream)
	if err == nil {
		if err = c.session.StartEncoding(stream); err != nil {
			c.monitor.Detach(stream, analyser)
		}
	}
	if err != nil {
		c.state = Idle
		c.mu.Unlock()
		c.session.Release()
		err = fmt.Errorf("%w: %w", ErrStartFailed, err)
		log.Error(err.Error())
		c.events.Failed(err)
		return err
	}
	c.stream = stream
	c.analyser = analyser
	c.level = 0
	c.silence = NewSilenceMonitor(sched.FrameInterval)
	c.state = Recording
	c.clock.Start()
	c.scheduleFrame(gen)
	c.mu.Unlock()

	cfg := stream.Config()
	log.RecordingStart(stream.DeviceName(), cfg.SampleRate)
	c.events.RecordingStarted()
	return nil
}

// scheduleFrame must be called with mu held.
func (c *Controller) scheduleFrame(gen uint64) {
	c.frame = c.sched.NextFrame(func() { c.onFrame(gen) })
}

func (c *Controller) onFrame(gen uint64) {
	c.mu.Lock()
	if c.state != Recording || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.level = c.monitor.SampleOnce(c.analyser)
	ev := c.silence.Tick(c.level)
	c.scheduleFrame(gen)
	c.mu.Unlock()

	if r, ok := c.events.(SilenceReporter); ok && ev != SilenceNone {
		r.Silence(ev)
	}
}

// stopMonitoring cancels the frame timer, stops the clock and detaches the
// analyser, in that order. Must be called with mu held.
func (c *Controller) stopMonitoring() {
	if c.frame != nil {
		c.frame.Stop()
		c.frame = nil
	}
	c.clock.Stop()
	c.monitor.Detach(c.stream, c.analyser)
	c.analyser = nil
	c.level = 0
}

// Stop ends the recording. Sampling and timing stop before it returns;
// the artifact is produced in the background and delivered through
// Events.Finalized. Stop while Idle or Stopping does nothing.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case Idle, Stopping:
		c.mu.Unlock()
		return nil
	case Acquiring:
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.state = Stopping
	c.stopMonitoring()
	elapsed := c.clock.Elapsed()
	gen := c.gen
	c.inflight.Add(1)
	c.mu.Unlock()

	log.RecordingStop(elapsed)
	c.events.RecordingStopped(elapsed)
	go c.finalize(gen, elapsed)
	return nil
}

func (c *Controller) finalize(gen uint64, elapsed int) {
	defer c.inflight.Done()

	art, err := c.session.Finalize()

	c.mu.Lock()
	if c.gen == gen && c.state == Stopping {
		c.state = Idle
	}
	c.stream = nil
	submit := err == nil && c.backend != nil && !c.closed
	if submit {
		c.busy = true
	}
	c.mu.Unlock()

	if err != nil {
		log.Errorf("finalize: %v", err)
		c.events.Failed(err)
		return
	}

	art.Elapsed = elapsed
	log.ArtifactReady(log.ArtifactInfo{
		MimeType: art.MimeType,
		SizeKB:   float64(len(art.Data)) / 1024,
		AudioS:   art.Duration.Seconds(),
	})
	c.events.Finalized(art)

	if submit {
		c.submitVoice(art)
	}
}

func (c *Controller) submitVoice(art Artifact) {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.voiceTimeout)
	defer cancel()

	g, err := c.backend.ProcessVoice(ctx, art)
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()

	if err = submissionError(g, err); err != nil {
		log.Errorf("voice submission: %v", err)
		c.events.Failed(err)
		return
	}
	log.SessionText(g.SessionID, g.Transcript)
	c.events.Generated(g)
}

// SubmitText sends a typed prompt. It is refused while a recording or
// another submission is in flight.
func (c *Controller) SubmitText(ctx context.Context, text string) (Generation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Generation{}, ErrEmptyText
	}

	c.mu.Lock()
	var err error
	switch {
	case c.closed:
		err = ErrClosed
	case c.backend == nil:
		err = ErrNoBackend
	case c.busy || c.state != Idle:
		err = ErrBusy
	}
	if err != nil {
		c.mu.Unlock()
		return Generation{}, err
	}
	c.busy = true
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()
	stop := context.AfterFunc(c.baseCtx, cancel)
	defer stop()

	g, err := c.backend.TextToImage(ctx, text)
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()

	if err = submissionError(g, err); err != nil {
		log.Errorf("text submission: %v", err)
		c.events.Failed(err)
		return Generation{}, err
	}
	log.SessionText(g.SessionID, g.Transcript)
	c.events.Generated(g)
	return g, nil
}

func submissionError(g Generation, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	if !g.Success {
		msg := g.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		return fmt.Errorf("%w: %s", ErrSubmissionFailed, msg)
	}
	return nil
}

// SwitchMode changes the input mode. Any change is rejected unless the
// controller is Idle.
func (c *Controller) SwitchMode(m InputMode) error {
	c.mu.Lock()
	if c.mode == m {
		c.mu.Unlock()
		return nil
	}
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		reason := fmt.Sprintf("cannot switch to %s mode while %s; stop recording first", m, state)
		log.Warn(reason)
		c.events.Rejected(reason)
		return ErrModeSwitchRejected
	}
	c.mode = m
	c.mu.Unlock()
	return nil
}

// Wait blocks until no finalize or submission is in flight.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the controller down with the same cleanup as Stop but
// without producing an artifact. An acquisition still pending is released
// as soon as it completes. In-flight submissions are cancelled.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	release := false
	if c.state == Recording {
		c.stopMonitoring()
		c.state = Idle
		c.stream = nil
		c.gen++
		release = true
	}
	c.mu.Unlock()

	c.cancelBase()
	if release {
		c.session.Release()
	}
	log.Info("capture controller closed")
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Mode() InputMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Level is the latest loudness sample, or 0 when not recording.
func (c *Controller) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Recording {
		return 0
	}
	return c.level
}

func (c *Controller) Elapsed() int {
	return c.clock.Elapsed()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{State: c.state, Mode: c.mode, Busy: c.busy || c.state == Stopping}
	if c.state == Recording {
		s.Level = c.level
	}
	c.mu.Unlock()
	s.Tier = Tier(s.Level)
	s.Elapsed = c.clock.Elapsed()
	return s
}

// IsAcquisitionError reports whether err came from opening the microphone.
func IsAcquisitionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable)
}
