package main

import (
	"time"

	"echosketch/capture"
	"echosketch/history"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI
// and the headless command driver receive the same notifications.
type EventSink interface {
	Notice(text string, isErr bool)
	Result(r Result)
	History(entries []history.Entry)
}

// Result is a generated session as shown to the user.
type Result struct {
	Generation capture.Generation
	Mode       capture.InputMode
	ImagePath  string // set when the image was saved to disk
	Audio      time.Duration
}

type nopSink struct{}

func (nopSink) Notice(string, bool)     {}
func (nopSink) Result(Result)           {}
func (nopSink) History([]history.Entry) {}
