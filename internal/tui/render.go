package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hersh/blockbattle/internal/game"
	"github.com/hersh/blockbattle/internal/protocol"
)

var (
	// Indexed by the board's color values: 0 empty, then I O T S Z J L.
	colors = []string{
		"0",
		"51",  // I cyan
		"226", // O yellow
		"201", // T magenta
		"46",  // S green
		"196", // Z red
		"21",  // J blue
		"208", // L orange
	}

	boardStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("15"))

	selfBoardStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("51"))

	infoStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("15"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))

	gameOverStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	winnerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226"))

	clearStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))
)

// RenderBoard draws one snapshot's board with the falling piece overlaid.
// Rows mid-clear flash solid white until the server finalizes them.
func RenderBoard(snap *protocol.Snapshot) string {
	grid := make([][]int, game.BoardHeight)
	for y := range grid {
		grid[y] = make([]int, game.BoardWidth)
		if y < len(snap.BoardMatrix) {
			copy(grid[y], snap.BoardMatrix[y])
		}
	}

	if snap.Active != nil {
		shape := game.ShapeAt(snap.Active.Shape, snap.Active.Rot)
		color := game.ColorIndex(snap.Active.Shape)
		for py, row := range shape {
			for px, cell := range row {
				if cell == 0 {
					continue
				}
				x, y := snap.Active.X+px, snap.Active.Y+py
				if x >= 0 && x < game.BoardWidth && y >= 0 && y < game.BoardHeight {
					grid[y][x] = color
				}
			}
		}
	}

	clearing := make(map[int]bool, len(snap.Clearing))
	if snap.ClearAnim {
		for _, y := range snap.Clearing {
			clearing[y] = true
		}
	}

	var sb strings.Builder
	for y := 0; y < game.BoardHeight; y++ {
		if y > 0 {
			sb.WriteString("\n")
		}
		if clearing[y] {
			sb.WriteString(clearStyle.Render(strings.Repeat("▓▓", game.BoardWidth)))
			continue
		}
		for x := 0; x < game.BoardWidth; x++ {
			c := grid[y][x]
			if c == 0 {
				sb.WriteString("  ")
				continue
			}
			color := "248"
			if c < len(colors) {
				color = colors[c]
			}
			sb.WriteString(lipgloss.NewStyle().
				Foreground(lipgloss.Color(color)).
				Render("██"))
		}
	}
	return sb.String()
}

// RenderKind draws a piece kind in its spawn orientation, for the hold
// and next panels.
func RenderKind(kind game.PieceKind) string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(colors[game.ColorIndex(kind)]))
	var sb strings.Builder
	for y, row := range game.ShapeAt(kind, 0) {
		if y > 0 {
			sb.WriteString("\n")
		}
		for _, cell := range row {
			if cell != 0 {
				sb.WriteString(style.Render("██"))
			} else {
				sb.WriteString("  ")
			}
		}
	}
	return sb.String()
}

// RenderPlayerPanel draws one player's board plus its stats column.
func RenderPlayerPanel(userID string, snap *protocol.Snapshot, self bool) string {
	name := userID
	if self {
		name += " (you)"
	}
	header := titleStyle.Render(name)

	if snap == nil {
		return lipgloss.JoinVertical(lipgloss.Center, header, boardStyle.Render(
			strings.Repeat(strings.Repeat("  ", game.BoardWidth)+"\n", game.BoardHeight-1)+
				strings.Repeat("  ", game.BoardWidth)))
	}

	style := boardStyle
	if self {
		style = selfBoardStyle
	}
	board := style.Render(RenderBoard(snap))

	var info strings.Builder
	info.WriteString(infoStyle.Render(fmt.Sprintf("Lines: %d", snap.Lines)) + "\n")
	info.WriteString(infoStyle.Render(fmt.Sprintf("Level: %d", snap.Level)) + "\n\n")
	info.WriteString(titleStyle.Render("HOLD") + "\n")
	if snap.Hold != nil {
		info.WriteString(RenderKind(*snap.Hold) + "\n\n")
	} else {
		info.WriteString("-\n\n")
	}
	info.WriteString(titleStyle.Render("NEXT") + "\n")
	for _, kind := range snap.Next {
		info.WriteString(RenderKind(kind) + "\n\n")
	}
	if snap.GameOver {
		info.WriteString(gameOverStyle.Render("TOPPED OUT"))
	}

	side := lipgloss.NewStyle().Width(14).Render(info.String())
	return lipgloss.JoinVertical(lipgloss.Center, header,
		lipgloss.JoinHorizontal(lipgloss.Top, board, side))
}

// RenderHeader draws the title bar with the remaining round time.
func RenderHeader(role string, remaining float64) string {
	return titleStyle.Render("BLOCKBATTLE") +
		infoStyle.Render(fmt.Sprintf("  %s  %02d:%02d", role, int(remaining)/60, int(remaining)%60))
}

// RenderWaiting draws the pre-match screen.
func RenderWaiting(roomID, role string) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("BLOCKBATTLE") + "\n\n")
	sb.WriteString(infoStyle.Render("Room: "+roomID) + "\n")
	if role != "" {
		sb.WriteString(infoStyle.Render("Role: "+role) + "\n")
	}
	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("Waiting for players...") + "\n")
	sb.WriteString(infoStyle.Render("Press Q to leave") + "\n")
	return sb.String()
}

// RenderResults draws the final standings.
func RenderResults(end *protocol.GameEnd, selfID string) string {
	var sb strings.Builder

	if end.Winner == selfID {
		sb.WriteString(winnerStyle.Render("WINNER!") + "\n\n")
	} else {
		sb.WriteString(gameOverStyle.Render("MATCH OVER") + "\n\n")
	}

	for i, r := range end.Results {
		marker := " "
		if r.Winner {
			marker = "*"
		}
		name := r.UserID
		if r.UserID == selfID {
			name += " (you)"
		}
		sb.WriteString(fmt.Sprintf("%s #%d %-20s lines:%-3d level:%-2d\n",
			marker, i+1, name, r.Lines, r.Level))
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Reason: %s", end.Reason)) + "\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Duration: %.0fs", end.Duration)) + "\n\n")
	sb.WriteString(infoStyle.Render("Press ENTER or Q to exit") + "\n")
	return sb.String()
}

// RenderControls draws the key legend under the boards.
func RenderControls() string {
	return infoStyle.Render("← → move   ↓ soft drop   ↑/X rotate   Z ccw   SPACE hard drop   C hold   Q quit")
}
