package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"echosketch/api"
	"echosketch/capture"
	"echosketch/history"
	"echosketch/log"
)

const waitTimeout = 2 * time.Minute

// archive is the backend's session store; *api.Client implements it.
type archive interface {
	Session(ctx context.Context, id string) (api.SessionRecord, error)
	RecentSessions(ctx context.Context, limit int) ([]api.SessionRecord, error)
	Search(ctx context.Context, query string, limit int) ([]api.SessionRecord, error)
	Stats(ctx context.Context) (api.Stats, error)
}

// lineSink prints notifications one per line for the stdin driver.
type lineSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *lineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *lineSink) Notice(text string, isErr bool) {
	if isErr {
		s.printf("error: %s", text)
		return
	}
	s.printf("notice: %s", text)
}

func (s *lineSink) Result(r Result) {
	g := r.Generation
	s.printf("result: mode=%s session=%s transcript=%q image=%s", r.Mode, g.SessionID, g.Transcript, r.ImagePath)
}

func (s *lineSink) History(entries []history.Entry) {
	s.printf("history: %d", len(entries))
}

func (s *lineSink) record(source string, r api.SessionRecord) {
	s.printf("session: %s id=%s transcript=%q", source, r.ID, r.Transcript)
}

// runScript drives the controller from line commands:
//
//	START | STOP | WAIT | TEXT <prompt> | MODE voice|text | STATE | SLEEP <ms> | QUIT
//	SESSION <id> | SEARCH <query> | RECENT [n] | STATS
//
// SESSION looks in local history before asking the backend. remote may be
// nil, in which case the backend lookups fail with capture.ErrNoBackend.
func runScript(ctx context.Context, in io.Reader, sink *lineSink, ctrl *capture.Controller, a *app, remote archive) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		var err error
		switch strings.ToUpper(cmd) {
		case "START":
			err = ctrl.Start()
		case "STOP":
			err = ctrl.Stop()
		case "WAIT":
			wctx, cancel := context.WithTimeout(ctx, waitTimeout)
			err = ctrl.Wait(wctx)
			cancel()
		case "TEXT":
			_, err = ctrl.SubmitText(ctx, arg)
		case "MODE":
			m, ok := capture.ParseInputMode(arg)
			if !ok {
				err = fmt.Errorf("unknown mode %q", arg)
				break
			}
			err = ctrl.SwitchMode(m)
		case "STATE":
			snap := ctrl.Snapshot()
			sink.printf("state: %s mode=%s elapsed=%s level=%.2f busy=%t",
				snap.State, snap.Mode, capture.FormatElapsed(snap.Elapsed), snap.Level, snap.Busy)
		case "SLEEP":
			ms, perr := strconv.Atoi(arg)
			if perr != nil {
				err = fmt.Errorf("SLEEP wants milliseconds: %w", perr)
				break
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		case "SESSION":
			err = lookupSession(ctx, sink, a, remote, arg)
		case "SEARCH":
			if remote == nil {
				err = capture.ErrNoBackend
				break
			}
			var found []api.SessionRecord
			if found, err = remote.Search(ctx, arg, 0); err == nil {
				for _, r := range found {
					sink.record("backend", r)
				}
				sink.printf("search: %d", len(found))
			}
		case "RECENT":
			if remote == nil {
				err = capture.ErrNoBackend
				break
			}
			n := 0
			if arg != "" {
				if n, err = strconv.Atoi(arg); err != nil {
					err = fmt.Errorf("RECENT wants a count: %w", err)
					break
				}
			}
			var recent []api.SessionRecord
			if recent, err = remote.RecentSessions(ctx, n); err == nil {
				for _, r := range recent {
					sink.record("backend", r)
				}
				sink.printf("recent: %d", len(recent))
			}
		case "STATS":
			if remote == nil {
				err = capture.ErrNoBackend
				break
			}
			var st api.Stats
			if st, err = remote.Stats(ctx); err == nil {
				sink.printf("stats: sessions=%d images=%d recent=%d", st.TotalSessions, st.TotalImages, st.RecentActivity)
			}
		case "QUIT":
			return nil
		default:
			err = fmt.Errorf("unknown command %q", cmd)
		}
		if err != nil && !reported(err) {
			log.Warnf("%s: %v", cmd, err)
			sink.printf("error: %s", describeError(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func lookupSession(ctx context.Context, sink *lineSink, a *app, remote archive, id string) error {
	if id == "" {
		return errors.New("SESSION wants an id")
	}
	if a != nil {
		e, err := a.HistoryEntry(id)
		if err == nil {
			sink.printf("session: local id=%s transcript=%q image=%s", e.ID, e.Transcript, e.ImagePath)
			return nil
		}
		if !errors.Is(err, history.ErrNotFound) && !errors.Is(err, errNoHistory) {
			return err
		}
	}
	if remote == nil {
		return capture.ErrNoBackend
	}
	r, err := remote.Session(ctx, id)
	if err != nil {
		return err
	}
	sink.record("backend", r)
	return nil
}
