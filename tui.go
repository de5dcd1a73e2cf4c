package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"echosketch/capture"
	"echosketch/clipboard"
	"echosketch/config"
	"echosketch/history"
)

const (
	meterWidth  = 32
	noticeTTL   = 4 * time.Second
	refreshRate = 60 * time.Millisecond
)

// TUI message types
type tickMsg time.Time
type noticeMsg struct {
	Text  string
	IsErr bool
}
type resultMsg Result
type historyMsg []history.Entry
type actionMsg struct{ Err error }

type tuiModel struct {
	ctx      context.Context
	ctrl     *capture.Controller
	app      *app
	copyText func(string) error
	header   string // backend URL and device

	snap          capture.Snapshot
	frame         int
	width, height int
	input         string
	notice        string
	noticeErr     bool
	noticeAt      time.Time
	now           time.Time
	last          *Result
	copied        bool
	history       []history.Entry
	settings      config.Settings

	// history search: query is being typed while searching; filter is the
	// last query run and matches its results.
	searching bool
	query     string
	filter    string
	matches   []history.Entry
}

// tuiSink delivers app notifications into the Bubble Tea event loop.
type tuiSink struct{ p *tea.Program }

func (s tuiSink) Notice(text string, isErr bool)  { s.p.Send(noticeMsg{Text: text, IsErr: isErr}) }
func (s tuiSink) Result(r Result)                 { s.p.Send(resultMsg(r)) }
func (s tuiSink) History(entries []history.Entry) { s.p.Send(historyMsg(entries)) }

var (
	tierColors = map[capture.LevelTier]lipgloss.Color{
		capture.TierLow:    "42",
		capture.TierMedium: "214",
		capture.TierHigh:   "196",
	}
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	recStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	modeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("213")).Padding(0, 1)
	inputStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func newTUIModel(ctx context.Context, ctrl *capture.Controller, a *app, header string) tuiModel {
	return tuiModel{
		ctx:      ctx,
		ctrl:     ctrl,
		app:      a,
		copyText: clipboard.Copy,
		header:   header,
		snap:     ctrl.Snapshot(),
		settings: a.Settings(),
		now:      time.Now(),
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.frame++
		m.now = time.Time(msg)
		m.snap = m.ctrl.Snapshot()
		return m, tuiTick()

	case noticeMsg:
		m.setNotice(msg.Text, msg.IsErr)

	case resultMsg:
		r := Result(msg)
		m.last = &r
		m.copied = false

	case historyMsg:
		m.history = msg

	case actionMsg:
		m.snap = m.ctrl.Snapshot()
		if msg.Err != nil && !reported(msg.Err) {
			m.setNotice(describeError(msg.Err), true)
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// reported reports whether the controller already surfaced err through
// its event stream.
func reported(err error) bool {
	return capture.IsAcquisitionError(err) ||
		errors.Is(err, capture.ErrStartFailed) ||
		errors.Is(err, capture.ErrSubmissionFailed) ||
		errors.Is(err, capture.ErrFinalizeFailed) ||
		errors.Is(err, capture.ErrModeSwitchRejected)
}

func (m *tuiModel) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeErr = isErr
	m.noticeAt = m.now
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	if m.searching {
		return m.handleSearchKey(msg)
	}
	switch key {
	case "tab":
		next := capture.Text
		if m.snap.Mode == capture.Text {
			next = capture.Voice
		}
		err := m.ctrl.SwitchMode(next)
		m.snap = m.ctrl.Snapshot()
		if err == nil {
			m.setNotice(next.String()+" mode", false)
		}
		return m, nil
	}

	if m.snap.Mode == capture.Text {
		return m.handleTextKey(msg)
	}

	switch key {
	case " ", "enter":
		return m, m.toggleRecording()
	case "c":
		m.copyTranscript()
	case "x":
		m.app.ClearSession()
		m.last = nil
		m.setNotice("session cleared", false)
	case "s":
		m.settings = m.updateSettings(config.Settings.CycleStyle)
		m.setNotice("image style: "+m.settings.ImageStyle, false)
	case "z":
		m.settings = m.updateSettings(config.Settings.CycleSize)
		m.setNotice("image size: "+m.settings.ImageSize, false)
	case "h":
		m.settings = m.updateSettings(func(s config.Settings) config.Settings {
			s.EnableHistory = !s.EnableHistory
			return s
		})
	case "a":
		m.settings = m.updateSettings(func(s config.Settings) config.Settings {
			s.AutoSave = !s.AutoSave
			return s
		})
	case "/":
		if !m.settings.EnableHistory {
			m.setNotice("history is off", true)
			break
		}
		m.searching = true
		m.query = ""
	case "esc":
		m.filter = ""
		m.matches = nil
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m tuiModel) handleTextKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input)
		if text == "" {
			return m, nil
		}
		if m.snap.Busy {
			m.setNotice("still generating, please wait", true)
			return m, nil
		}
		m.input = ""
		m.setNotice("generating image…", false)
		ctx, ctrl := m.ctx, m.ctrl
		return m, func() tea.Msg {
			_, err := ctrl.SubmitText(ctx, text)
			return actionMsg{Err: err}
		}
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeyEsc:
		m.input = ""
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return m, nil
}

func (m tuiModel) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.searching = false
		q := strings.TrimSpace(m.query)
		if q == "" {
			m.filter = ""
			m.matches = nil
			return m, nil
		}
		found, err := m.app.SearchHistory(q)
		if err != nil {
			m.setNotice("search failed: "+err.Error(), true)
			return m, nil
		}
		m.filter = q
		m.matches = found
	case tea.KeyEsc:
		m.searching = false
		m.query = ""
	case tea.KeyBackspace:
		if r := []rune(m.query); len(r) > 0 {
			m.query = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.query += " "
	case tea.KeyRunes:
		m.query += string(msg.Runes)
	}
	return m, nil
}

func (m tuiModel) toggleRecording() tea.Cmd {
	ctrl := m.ctrl
	switch m.snap.State {
	case capture.Idle:
		return func() tea.Msg { return actionMsg{Err: ctrl.Start()} }
	case capture.Recording:
		return func() tea.Msg { return actionMsg{Err: ctrl.Stop()} }
	}
	return nil
}

func (m *tuiModel) copyTranscript() {
	if m.last == nil {
		m.setNotice("nothing to copy yet", true)
		return
	}
	if err := m.copyText(m.last.Generation.Transcript); err != nil {
		m.setNotice("copy failed: "+err.Error(), true)
		return
	}
	m.copied = true
}

func (m *tuiModel) updateSettings(fn func(config.Settings) config.Settings) config.Settings {
	s, err := m.app.UpdateSettings(fn)
	if err != nil {
		m.setNotice("settings not saved: "+err.Error(), true)
	}
	return s
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	width := m.width - 2
	if width < 20 {
		width = 20
	}

	var lines []string
	lines = append(lines, titleStyle.Render("echosketch")+"  "+modeStyle.Render(strings.ToUpper(m.snap.Mode.String())))
	if m.header != "" {
		lines = append(lines, dimStyle.Render(m.header))
	}
	lines = append(lines, "")
	lines = append(lines, m.statusLine())

	if m.snap.Mode == capture.Voice {
		lines = append(lines, renderMeter(m.snap.Level, m.snap.Tier, m.snap.State == capture.Recording))
	} else {
		cursor := " "
		if m.frame/8%2 == 0 {
			cursor = "▏"
		}
		lines = append(lines, promptStyle.Render("describe> ")+inputStyle.Render(m.input)+cursor)
	}
	lines = append(lines, "")

	if m.last != nil {
		lines = append(lines, m.resultLines(width)...)
	} else {
		lines = append(lines, dimStyle.Render("No images yet"))
	}

	if m.settings.EnableHistory {
		lines = append(lines, m.historyLines(width)...)
	}

	if m.notice != "" && m.now.Sub(m.noticeAt) < noticeTTL {
		style := okStyle
		if m.noticeErr {
			style = errStyle
		}
		lines = append(lines, "", style.Render(m.notice))
	}

	lines = append(lines, "", m.helpLine(), helpStyle.Render(fmt.Sprintf("style %s · size %s · history %s · autosave %s · %s",
		m.settings.ImageStyle, m.settings.ImageSize, onOff(m.settings.EnableHistory), onOff(m.settings.AutoSave), version)))

	return lipgloss.NewStyle().Width(m.width).PaddingLeft(1).Render(strings.Join(lines, "\n"))
}

func (m tuiModel) statusLine() string {
	switch m.snap.State {
	case capture.Acquiring:
		return dimStyle.Render("◌ opening microphone…")
	case capture.Recording:
		return recStyle.Render("● REC " + capture.FormatElapsed(m.snap.Elapsed))
	case capture.Stopping:
		return dimStyle.Render("◍ finishing recording…")
	}
	if m.snap.Busy {
		return dimStyle.Render(spinner(m.frame) + " generating image…")
	}
	return dimStyle.Render("○ STANDBY")
}

func (m tuiModel) resultLines(width int) []string {
	g := m.last.Generation
	title := fmt.Sprintf("Last %s prompt", m.last.Mode)
	if g.SessionID != "" {
		title += " (" + g.SessionID + ")"
	}
	lines := []string{dimStyle.Render(title)}
	text := wrapText(g.Transcript, width)
	for i, line := range text {
		if i == len(text)-1 && m.copied {
			line = textStyle.Render(line) + " " + okStyle.Render("[✓ copied]")
		} else {
			line = textStyle.Render(line)
		}
		lines = append(lines, line)
	}
	if g.EnhancedPrompt != "" {
		for _, line := range wrapText(g.EnhancedPrompt, width) {
			lines = append(lines, dimStyle.Render(line))
		}
	}
	switch {
	case m.last.ImagePath != "":
		lines = append(lines, okStyle.Render("image saved: "+m.last.ImagePath))
	case g.Image.URL != "":
		lines = append(lines, dimStyle.Render("image: "+g.Image.URL))
	case g.Image.DataURL != "":
		lines = append(lines, dimStyle.Render("image received (auto-save off)"))
	}
	return lines
}

func (m tuiModel) historyLines(width int) []string {
	var lines []string
	entries := m.history
	switch {
	case m.searching:
		lines = append(lines, "", promptStyle.Render("search> ")+inputStyle.Render(m.query))
		entries = nil
	case m.filter != "":
		lines = append(lines, "", dimStyle.Render(fmt.Sprintf("Matches for %q", m.filter)))
		entries = m.matches
		if len(entries) == 0 {
			lines = append(lines, dimStyle.Render("no matches"))
		}
	case len(entries) > 0:
		lines = append(lines, "", dimStyle.Render("Recent"))
	}
	for _, e := range entries {
		lines = append(lines, dimStyle.Render(historyLine(e, width)))
	}
	return lines
}

func (m tuiModel) helpLine() string {
	k := func(key, what string) string { return keyStyle.Render(key) + helpStyle.Render(" "+what) }
	if m.searching {
		return strings.Join([]string{k("enter", "search"), k("esc", "cancel")}, "  ")
	}
	if m.snap.Mode == capture.Text {
		return strings.Join([]string{k("enter", "generate"), k("esc", "clear"), k("tab", "voice mode"), k("ctrl+c", "quit")}, "  ")
	}
	action := "record"
	if m.snap.State == capture.Recording {
		action = "stop"
	}
	return strings.Join([]string{
		k("space", action), k("tab", "text mode"), k("c", "copy"), k("x", "clear"),
		k("s/z", "style/size"), k("h/a", "history/autosave"), k("/", "search"), k("q", "quit"),
	}, "  ")
}

// renderMeter draws the level bar coloured by tier.
func renderMeter(level float64, tier capture.LevelTier, recording bool) string {
	if !recording {
		return dimStyle.Render(strings.Repeat("·", meterWidth))
	}
	n := int(math.Round(level * meterWidth))
	n = max(0, min(n, meterWidth))
	bar := lipgloss.NewStyle().Foreground(tierColors[tier]).Render(strings.Repeat("█", n))
	return bar + dimStyle.Render(strings.Repeat("·", meterWidth-n)) + " " + dimStyle.Render(string(tier))
}

func historyLine(e history.Entry, width int) string {
	line := e.CreatedAt.Format("15:04") + " " + e.Mode + " " + e.Transcript
	if r := []rune(line); len(r) > width {
		line = string(r[:width-1]) + "…"
	}
	return line
}

func spinner(frame int) string {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	return frames[frame%len(frames)]
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
