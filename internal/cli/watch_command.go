package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"imagine-manager/internal/model"
	"imagine-manager/internal/queue"
	"imagine-manager/internal/upscale"
)

const watchLogLines = 8

type watchMode int

const (
	watchModeBrowse watchMode = iota
	watchModeInput
)

type watchModel struct {
	queues  []*queue.Queue
	cursor  int
	mode    watchMode
	input   textinput.Model
	spinner spinner.Model
	width   int
	height  int

	events  <-chan tea.Msg
	upscale func(postID string) tea.Cmd

	log           []string
	statusMessage string
}

// watchEventMsg wakes the model after any queue change; the view reads
// fresh snapshots so the event itself only carries what the log needs.
type watchEventMsg struct {
	ev queue.Event
}

type watchStatusMsg struct {
	text string
}

type watchUpscaleDoneMsg struct {
	res upscale.Result
	err error
}

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	watchSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	resume := fs.Bool("resume", true, "start draining pending items on open")
	common := bindCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !stdinIsTTY() {
		return errors.New("watch requires an interactive terminal (TTY)")
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, err := openRuntime(ctx, common, runtimeOptions{command: "watch", lock: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	events := make(chan tea.Msg, 256)
	forward := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}

	queues := make([]*queue.Queue, 0, len(queueNames))
	for _, name := range queueNames {
		q, err := rt.openQueue(ctx, name)
		if err != nil {
			return err
		}
		unsub := q.Subscribe(func(ev queue.Event) { forward(watchEventMsg{ev: ev}) })
		defer unsub()
		queues = append(queues, q)
	}

	orch, err := rt.upscaler(ctx, func(s upscale.Status) {
		forward(watchStatusMsg{text: fmt.Sprintf("[%s] %s", s.PostID, s.Message)})
	})
	if err != nil {
		return err
	}
	if *resume {
		for _, q := range queues {
			q.StartProcessing()
		}
	}

	m := newWatchModel(queues, events, func(postID string) tea.Cmd {
		return func() tea.Msg {
			res, err := orch.UpscalePost(ctx, postID)
			return watchUpscaleDoneMsg{res: res, err: err}
		}
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("watch requires an interactive terminal (TTY)")
		}
		return err
	}
	return nil
}

func newWatchModel(queues []*queue.Queue, events <-chan tea.Msg, upscaleFn func(string) tea.Cmd) watchModel {
	input := textinput.New()
	input.Prompt = "post id> "
	input.Placeholder = "paste a post id"
	input.CharLimit = 256
	input.Width = 48

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return watchModel{
		queues:  queues,
		input:   input,
		spinner: sp,
		events:  events,
		upscale: upscaleFn,
	}
}

func waitForWatchEvent(events <-chan tea.Msg) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		return <-events
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForWatchEvent(m.events))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = clampInt(m.width-16, 20, 96)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case watchEventMsg:
		m = m.appendEventLog(msg.ev)
		return m, waitForWatchEvent(m.events)
	case watchStatusMsg:
		m = m.appendLog(msg.text)
		return m, waitForWatchEvent(m.events)
	case watchUpscaleDoneMsg:
		switch {
		case msg.err != nil:
			m.statusMessage = "error: " + msg.err.Error()
		default:
			m.statusMessage = fmt.Sprintf("%s: %s", msg.res.PostID, msg.res.Status)
		}
		return m, nil
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.mode == watchModeInput {
		return m.updateInput(keyMsg)
	}
	return m.updateBrowse(keyMsg)
}

func (m watchModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.queues)-1 {
			m.cursor++
		}
		return m, nil
	case "u":
		m.mode = watchModeInput
		m.input.SetValue("")
		m.statusMessage = ""
		cmd := m.input.Focus()
		return m, cmd
	}

	q := m.selected()
	if q == nil {
		return m, nil
	}
	switch msg.String() {
	case "s":
		q.StopProcessing()
		m.statusMessage = q.Name() + ": stopping after current item"
	case "r":
		switch {
		case q.Counts().Pending == 0:
			m.statusMessage = q.Name() + ": nothing pending"
		case q.StartProcessing():
			m.statusMessage = q.Name() + ": processing"
		default:
			m.statusMessage = q.Name() + ": already running"
		}
	case "c":
		n := q.ClearCompleted()
		m.statusMessage = fmt.Sprintf("%s: cleared %d completed item(s)", q.Name(), n)
	}
	return m, nil
}

func (m watchModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.mode = watchModeBrowse
		m.input.Blur()
		m.statusMessage = "upscale cancelled"
		return m, nil
	case "enter":
		id := strings.TrimSpace(m.input.Value())
		if id == "" {
			m.statusMessage = "post id is required"
			return m, nil
		}
		m.mode = watchModeBrowse
		m.input.Blur()
		m.input.SetValue("")
		m.statusMessage = "upscale requested for " + id
		if m.upscale == nil {
			return m, nil
		}
		return m, m.upscale(id)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m watchModel) selected() *queue.Queue {
	if m.cursor < 0 || m.cursor >= len(m.queues) {
		return nil
	}
	return m.queues[m.cursor]
}

func (m watchModel) appendEventLog(ev queue.Event) watchModel {
	switch ev.Kind {
	case queue.EventItemStatus:
		line := fmt.Sprintf("%s: %s %s", ev.Queue, ev.Item.Status, ev.Item.Key)
		if ev.Item.Error != "" {
			line += " (" + ev.Item.Error + ")"
		}
		return m.appendLog(line)
	case queue.EventPassFinished:
		return m.appendLog(fmt.Sprintf("%s: pass finished %d ok, %d failed", ev.Queue, ev.Pass.Succeeded, ev.Pass.Failed))
	case queue.EventIdle:
		if ev.Stopped {
			return m.appendLog(ev.Queue + ": stopped")
		}
		return m.appendLog(ev.Queue + ": idle")
	case queue.EventCleared:
		return m.appendLog(fmt.Sprintf("%s: cleared %d item(s)", ev.Queue, len(ev.Keys)))
	}
	return m
}

func (m watchModel) appendLog(line string) watchModel {
	stamped := time.Now().Format("15:04:05") + " " + line
	next := make([]string, 0, watchLogLines)
	if len(m.log) >= watchLogLines {
		next = append(next, m.log[len(m.log)-watchLogLines+1:]...)
	} else {
		next = append(next, m.log...)
	}
	m.log = append(next, stamped)
	return m
}

func (m watchModel) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}
	header := watchTitleStyle.Render("imagine-manager watch") + "\n" +
		watchMutedStyle.Render("up/down: select | u: upscale post | s: stop | r: resume | c: clear completed | q: quit")

	parts := []string{header, m.renderQueuesPanel(width), m.renderItemsPanel(width)}
	if m.mode == watchModeInput {
		parts = append(parts, watchPanelStyle.Width(width-2).Render(m.input.View()))
	}
	parts = append(parts, m.renderLogPanel(width), m.renderStatusLine(width))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m watchModel) renderQueuesPanel(width int) string {
	lines := make([]string, 0, len(m.queues))
	for i, q := range m.queues {
		c := q.Counts()
		state := q.State().String()
		if q.IsProcessing() {
			state = m.spinner.View() + " " + state
		}
		line := fmt.Sprintf("%-9s %-12s total=%d pending=%d processing=%d completed=%d failed=%d",
			q.Name(), state, c.Total, c.Pending, c.Processing, c.Completed, c.Failed)
		line = truncateRunes(line, maxInt(width-6, 10))
		if i == m.cursor {
			line = watchSelStyle.Width(maxInt(width-4, 6)).Render(line)
		}
		lines = append(lines, line)
	}
	return watchPanelStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m watchModel) renderItemsPanel(width int) string {
	q := m.selected()
	if q == nil {
		return ""
	}
	items := q.Items()
	lines := []string{watchMutedStyle.Render(q.Name() + " items")}
	if len(items) == 0 {
		lines = append(lines, watchMutedStyle.Render("empty"))
		return watchPanelStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
	}

	maxRows := clampInt(m.height-20, 3, 12)
	start, end := listWindow(len(items), len(items)-1, maxRows)
	if start > 0 {
		lines = append(lines, watchMutedStyle.Render(fmt.Sprintf("... %d earlier", start)))
	}
	for _, it := range items[start:end] {
		lines = append(lines, truncateRunes(formatWatchItem(it), maxInt(width-6, 10)))
	}
	return watchPanelStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func formatWatchItem(it model.QueueItem) string {
	line := fmt.Sprintf("%-10s %s", it.Status, it.Key)
	if it.TotalItems > 0 {
		line += fmt.Sprintf(" %d/%d", it.ProcessedItems, it.TotalItems)
	}
	switch it.Status {
	case model.StatusFailed:
		line = watchErrorStyle.Render(line) + " " + it.Error
	case model.StatusCompleted:
		line = watchOKStyle.Render(line)
	}
	return line
}

func (m watchModel) renderLogPanel(width int) string {
	if len(m.log) == 0 {
		return watchPanelStyle.Width(width - 2).Render(watchMutedStyle.Render("no activity yet"))
	}
	lines := make([]string, 0, len(m.log))
	for _, l := range m.log {
		lines = append(lines, truncateRunes(l, maxInt(width-6, 10)))
	}
	return watchPanelStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func (m watchModel) renderStatusLine(width int) string {
	if m.statusMessage == "" {
		return ""
	}
	msg := truncateRunes(m.statusMessage, maxInt(width-2, 10))
	if strings.HasPrefix(m.statusMessage, "error:") {
		return watchErrorStyle.Render(msg)
	}
	return watchOKStyle.Render(msg)
}
