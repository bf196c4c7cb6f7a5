package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	"github.com/ZanzyTHEbar/iam-geni/geni/orchestration"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Commands typed into the input line.
const (
	cmdLogout = "/logout"
	cmdQuit   = "/quit"
)

const welcome = "Welcome to the Orchestrator Agent. Ask provisioning or IAM questions here."

// API is the part of the orchestrator API the client uses.
type API interface {
	Send(ctx context.Context, threadID, message string, history []ports.Turn) (orchestration.Envelope, error)
	EndThread(ctx context.Context, threadID string) error
}

// exchange is one user message and the raw result shown for it.
type exchange struct {
	user  string
	reply string
}

type replyMsg struct {
	result string
	err    error
}

type loggedOutMsg struct{ err error }

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#01cdfe")).Bold(true)
	statusStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff71ce")).Bold(true)
)

// Model is the bubbletea model of a chat session.
type Model struct {
	ctx      context.Context
	api      API
	threadID string

	history []exchange
	pending string
	status  string
	done    bool

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	ready    bool
}

// NewModel creates a chat model bound to an open thread.
func NewModel(ctx context.Context, api API, threadID string) Model {
	in := textinput.New()
	in.Placeholder = "Say something to the orchestrator"
	in.Prompt = "› "
	in.CharLimit = 4000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:      ctx,
		api:      api,
		threadID: threadID,
		input:    in,
		spinner:  sp,
		status:   "/logout ends the session · esc quits",
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles input, replies and resizes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := max(msg.Height-3, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width, m.viewport.Height = msg.Width, height
		}
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if cmd := m.submit(); cmd != nil {
				return m, cmd
			}
			return m, nil
		}

	case replyMsg:
		result := msg.result
		if msg.err != nil {
			result = orchestration.BusyMessage
		}
		m.history = append(m.history, exchange{user: m.pending, reply: result})
		m.pending = ""
		m.refresh()
		return m, nil

	case loggedOutMsg:
		m.done = true
		if msg.err != nil {
			m.status = errorStyle.Render("logout failed: " + msg.err.Error())
		}
		return m, tea.Quit

	case spinner.TickMsg:
		if m.pending == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// submit handles the current input line. It returns nil when there is
// nothing to do.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.pending != "" {
		return nil
	}
	m.input.Reset()

	switch strings.ToLower(text) {
	case cmdLogout:
		m.status = "ending session..."
		return m.logout()
	case cmdQuit:
		return tea.Quit
	}

	m.pending = text
	m.refresh()
	return tea.Batch(m.send(text, m.turns()), m.spinner.Tick)
}

// turns types the stored exchanges as alternating user and assistant turns.
func (m *Model) turns() []ports.Turn {
	turns := make([]ports.Turn, 0, 2*len(m.history))
	for _, ex := range m.history {
		turns = append(turns,
			ports.Turn{Role: ports.RoleUser, Content: ex.user},
			ports.Turn{Role: ports.RoleAssistant, Content: ex.reply},
		)
	}
	return turns
}

func (m *Model) send(text string, history []ports.Turn) tea.Cmd {
	api, ctx, threadID := m.api, m.ctx, m.threadID
	return func() tea.Msg {
		env, err := api.Send(ctx, threadID, text, history)
		return replyMsg{result: env.Result, err: err}
	}
}

func (m *Model) logout() tea.Cmd {
	api, ctx, threadID := m.api, m.ctx, m.threadID
	return func() tea.Msg {
		return loggedOutMsg{err: api.EndThread(ctx, threadID)}
	}
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m *Model) transcript() string {
	if len(m.history) == 0 && m.pending == "" {
		return statusStyle.Render(welcome)
	}
	var b strings.Builder
	for _, ex := range m.history {
		fmt.Fprintf(&b, "%s %s\n", userStyle.Render("You:"), ex.user)
		fmt.Fprintf(&b, "%s\n%s\n\n", agentStyle.Render("Orchestrator:"), Render(ex.reply, m.width))
	}
	if m.pending != "" {
		fmt.Fprintf(&b, "%s %s\n", userStyle.Render("You:"), m.pending)
	}
	return strings.TrimRight(b.String(), "\n")
}

// View draws the transcript, status line and input.
func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}
	status := statusStyle.Render(m.status)
	if m.pending != "" {
		status = m.spinner.View() + " Orchestrator is typing..."
	}
	return m.viewport.View() + "\n" + status + "\n" + m.input.View()
}

// Run opens a session and runs the terminal UI until the user quits.
func Run(ctx context.Context, cfg config.ChatConfig) error {
	client := NewClient(cfg)
	threadID, err := client.CreateThread(ctx)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(NewModel(ctx, client, threadID), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
