package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/entity-scripting/config"
	"github.com/wippyai/entity-scripting/script"
	"github.com/wippyai/entity-scripting/world"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const maxLogLines = 500

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Step     key.Binding
	Run      key.Binding
	Interact key.Binding
	Attack   key.Binding
	Kill     key.Binding
	Despawn  key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Step, k.Run, k.Interact, k.Attack, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Step, k.Run},
		{k.Interact, k.Attack, k.Kill, k.Despawn},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Step:     key.NewBinding(key.WithKeys(" ", "n"), key.WithHelp("space", "step")),
	Run:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "run/pause")),
	Interact: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "interact")),
	Attack:   key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "attack")),
	Kill:     key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "kill")),
	Despawn:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "despawn")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// logBuffer collects log output so it can be shown inside the TUI.
type logBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		b.lines = append(b.lines, line)
	}
	return len(p), nil
}

func (b *logBuffer) take() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.lines
	b.lines = nil
	return out
}

type interactiveModel struct {
	ctx  context.Context
	s    *session
	logs *logBuffer

	keys     keyMap
	help     help.Model
	log      viewport.Model
	lines    []string
	entities []world.EntityID
	selected int
	running  bool
	width    int
	height   int
	err      error
}

type frameMsg time.Time

func newInteractiveModel(ctx context.Context, s *session, logs *logBuffer, width, height int) *interactiveModel {
	m := &interactiveModel{
		ctx:    ctx,
		s:      s,
		logs:   logs,
		keys:   keys,
		help:   help.New(),
		log:    viewport.New(width, 10),
		width:  width,
		height: height,
	}
	s.onReport = m.addReport
	m.refresh()
	m.layout()
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) nextFrame() tea.Cmd {
	return tea.Tick(m.s.cfg.FrameDT, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.layout()

	case frameMsg:
		if !m.running {
			return m, nil
		}
		m.step()
		if m.err != nil {
			m.running = false
			return m, nil
		}
		return m, m.nextFrame()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.entities)-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Step):
			m.step()
		case key.Matches(msg, m.keys.Run):
			m.running = !m.running
			if m.running {
				return m, m.nextFrame()
			}
		case key.Matches(msg, m.keys.Interact):
			m.onSelected(m.s.rt.Interacted)
		case key.Matches(msg, m.keys.Attack):
			m.onSelected(m.s.rt.Attacked)
		case key.Matches(msg, m.keys.Kill):
			m.onSelected(func(ctx context.Context, id world.EntityID) error {
				return m.s.rt.EntityEvent(ctx, id, script.EntityKilled)
			})
		case key.Matches(msg, m.keys.Despawn):
			m.onSelected(m.s.rt.Despawn)
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.layout()
		}
	}

	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	return m, cmd
}

func (m *interactiveModel) step() {
	m.err = m.s.step(m.ctx)
	m.refresh()
}

func (m *interactiveModel) onSelected(fn func(context.Context, world.EntityID) error) {
	if m.selected >= len(m.entities) {
		return
	}
	if err := fn(m.ctx, m.entities[m.selected]); err != nil {
		m.appendLines(errorStyle.Render(err.Error()))
	}
	m.refresh()
}

func (m *interactiveModel) addReport(r script.Report) {
	if len(r.Commands) == 0 && len(r.Events) == 0 && len(r.Errors) == 0 &&
		len(r.Spawned) == 0 && len(r.Despawned) == 0 && len(r.Unscripted) == 0 {
		return
	}
	head := fmt.Sprintf("[%d] %s", r.Frame, r.Entry)
	lines := []string{typeStyle.Render(head)}
	for _, c := range r.Commands {
		lines = append(lines, fmt.Sprintf("  #%d %s", c.Entity, funcStyle.Render(string(c.Command.Type))))
	}
	for _, ev := range r.Events {
		lines = append(lines, "  event "+ev.String())
	}
	for _, id := range r.Spawned {
		lines = append(lines, fmt.Sprintf("  spawned #%d", id))
	}
	for _, id := range r.Despawned {
		lines = append(lines, fmt.Sprintf("  despawned #%d", id))
	}
	for _, id := range r.Unscripted {
		lines = append(lines, fmt.Sprintf("  unscripted #%d", id))
	}
	for _, e := range r.Errors {
		lines = append(lines, "  "+errorStyle.Render(e))
	}
	m.appendLines(lines...)
}

func (m *interactiveModel) appendLines(lines ...string) {
	m.lines = append(m.lines, lines...)
	if over := len(m.lines) - maxLogLines; over > 0 {
		m.lines = m.lines[over:]
	}
}

// refresh pulls world effects and log output into the log pane and
// reloads the entity list.
func (m *interactiveModel) refresh() {
	for _, e := range m.s.takeEffects() {
		m.appendLines(resultStyle.Render("  " + e.String()))
	}
	m.appendLines(m.logs.take()...)
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()

	m.entities = m.s.world.Entities()
	if m.selected >= len(m.entities) {
		m.selected = max(len(m.entities)-1, 0)
	}
}

func (m *interactiveModel) layout() {
	m.log.Width = m.width
	listHeight := len(m.entities) + 4
	helpHeight := 2
	if m.help.ShowAll {
		helpHeight = 6
	}
	m.log.Height = max(m.height-listHeight-helpHeight, 3)
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	status := "paused"
	if m.running {
		status = "running"
	}
	b.WriteString(titleStyle.Render("Entity Runtime"))
	b.WriteString(fmt.Sprintf(" frame %d • level %d • %s", m.s.rt.Frame(), m.s.world.Level(), status))
	b.WriteString("\n\n")

	for i, id := range m.entities {
		line := m.formatEntity(id)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.log.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func (m *interactiveModel) formatEntity(id world.EntityID) string {
	e, ok := m.s.world.Entity(id)
	if !ok {
		return fmt.Sprintf("#%d gone", id)
	}
	name := e.Prototype
	if e.Player {
		name = "player"
	}
	line := fmt.Sprintf("#%-3d %-12s (%.1f, %.1f) %s", id, funcStyle.Render(name), e.Position.X, e.Position.Y, e.Facing)
	if e.Health != nil {
		line += fmt.Sprintf(" hp=%d", *e.Health)
	}
	if e.Animation != nil {
		line += " " + typeStyle.Render(e.Animation.Name)
	}
	if info, ok := m.s.rt.Instance(id); ok {
		state := "idle"
		if info.Ticking {
			state = "ticking"
		}
		line += fmt.Sprintf(" [%s timers=%d]", state, len(info.Timers))
	}
	return line
}

// runInteractive runs the level under a TUI. Logs are captured into the
// log pane instead of the terminal.
func runInteractive(ctx context.Context, cfg *config.Runtime, opts runOptions) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("interactive mode needs a terminal")
	}
	width, height, err := term.GetSize(fd)
	if err != nil {
		width, height = 80, 24
	}

	logs := &logBuffer{}
	logger, err := newLogger(cfg.LogLevel, "console", logs)
	if err != nil {
		return err
	}
	s, err := newSession(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	p := tea.NewProgram(newInteractiveModel(ctx, s, logs, width, height), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return s.save(context.Background())
}
