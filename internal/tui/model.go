package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hersh/blockbattle/internal/netclient"
	"github.com/hersh/blockbattle/internal/protocol"
)

// --- Custom tea.Msg types ---

// TickMsg redraws the round timer while a match is running.
type TickMsg time.Time

// --- Screens ---

type Screen int

const (
	ScreenConnecting Screen = iota
	ScreenWaiting
	ScreenPlaying
	ScreenResults
)

// --- Model ---

// Model renders what the server says and sends inputs back. All game
// state lives server-side; the model never simulates locally.
type Model struct {
	screen   Screen
	userID   string
	roomID   string
	mode     string
	role     string
	readOnly bool
	width    int
	height   int

	// Network
	client *netclient.Client

	// Match state (from server)
	players       []string
	roundDuration float64
	startedAt     float64
	boards        map[string]*protocol.Snapshot
	result        *protocol.GameEnd

	// Error
	errMsg       string
	disconnected bool
}

// NewModel creates a model for the client TUI.
func NewModel(userID, roomID, mode string, client *netclient.Client) Model {
	return Model{
		screen: ScreenConnecting,
		userID: userID,
		roomID: roomID,
		mode:   mode,
		client: client,
		boards: make(map[string]*protocol.Snapshot),
	}
}

func (m Model) Init() tea.Cmd {
	m.client.Send(&protocol.Hello{
		Kind:   protocol.MsgHello,
		UserID: m.userID,
		RoomID: m.roomID,
		Mode:   m.mode,
	})
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case TickMsg:
		return m, tickCmd()

	// Network messages
	case netclient.DisconnectedMsg:
		m.disconnected = true
		return m, nil
	case netclient.ServerMsg:
		return m.handleServerMsg(msg)
	}
	return m, nil
}

// --- Network message handlers ---

func (m Model) handleServerMsg(msg netclient.ServerMsg) (tea.Model, tea.Cmd) {
	switch sm := msg.Msg.(type) {
	case *protocol.Welcome:
		m.role = sm.Role
		m.readOnly = sm.ReadOnly
		m.screen = ScreenWaiting

	case *protocol.ErrorReply:
		m.errMsg = sm.Error

	case *protocol.GameStart:
		m.players = sm.Players
		m.startedAt = sm.Timestamp
		m.roundDuration = sm.RoundDuration
		m.result = nil
		m.boards = make(map[string]*protocol.Snapshot)
		m.screen = ScreenPlaying

	case *protocol.Snapshot:
		m.boards[sm.UserID] = sm

	case *protocol.GameEnd:
		m.result = sm
		m.screen = ScreenResults
	}
	return m, nil
}

// --- Key handlers ---

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m.quit()
	}

	if m.screen == ScreenPlaying {
		return m.handlePlayingKeys(msg)
	}
	if m.screen == ScreenResults && msg.String() == "enter" {
		return m.quit()
	}
	return m, nil
}

// quit hands the farewell to a command so Update never blocks on the
// network.
func (m Model) quit() (tea.Model, tea.Cmd) {
	client := m.client
	leaving := m.screen == ScreenPlaying || m.screen == ScreenWaiting
	userID := m.userID
	return m, func() tea.Msg {
		if client != nil {
			if leaving {
				client.Send(&protocol.LeaveGame{Kind: protocol.MsgLeaveGame, UserID: userID})
				// Give the leave frame a moment to flush before closing.
				time.Sleep(100 * time.Millisecond)
			}
			client.Close()
		}
		return tea.Quit()
	}
}

func (m Model) handlePlayingKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.readOnly {
		return m, nil
	}
	if own, ok := m.boards[m.userID]; ok && own.GameOver {
		return m, nil
	}

	var action string
	switch msg.String() {
	case "left", "h":
		action = protocol.ActionLeft
	case "right", "l":
		action = protocol.ActionRight
	case "down", "j":
		action = protocol.ActionDown
	case "up", "x":
		action = protocol.ActionCW
	case "z":
		action = protocol.ActionCCW
	case " ":
		action = protocol.ActionHardDrop
	case "c":
		action = protocol.ActionHold
	default:
		return m, nil
	}

	m.client.Send(&protocol.Input{
		Kind:   protocol.MsgInput,
		UserID: m.userID,
		Action: action,
	})
	return m, nil
}

// --- View ---

func (m Model) View() string {
	if m.disconnected {
		return m.renderCentered("Disconnected from server.\nPress Ctrl+C to exit.")
	}
	if m.errMsg != "" {
		return m.renderCentered("Server error: " + m.errMsg + "\nPress Q to exit.")
	}

	switch m.screen {
	case ScreenConnecting:
		return m.renderCentered("Connecting to match server...")
	case ScreenWaiting:
		return m.renderCentered(RenderWaiting(m.roomID, m.role))
	case ScreenPlaying:
		return m.renderPlaying()
	case ScreenResults:
		return m.renderResults()
	}
	return ""
}

func (m Model) renderCentered(content string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(content)
}

func (m Model) renderPlaying() string {
	remaining := 0.0
	if m.roundDuration > 0 {
		elapsed := float64(time.Now().UnixNano()) / float64(time.Second)
		remaining = m.roundDuration - (elapsed - m.startedAt)
		if remaining < 0 {
			remaining = 0
		}
	}

	panels := make([]string, 0, len(m.players))
	for _, id := range m.players {
		snap := m.boards[id]
		panels = append(panels, RenderPlayerPanel(id, snap, id == m.userID))
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, panels...)
	header := RenderHeader(m.role, remaining)

	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(lipgloss.JoinVertical(lipgloss.Center, header, main, RenderControls()))
}

func (m Model) renderResults() string {
	if m.result == nil {
		return m.renderCentered("Match over")
	}
	return m.renderCentered(RenderResults(m.result, m.userID))
}
