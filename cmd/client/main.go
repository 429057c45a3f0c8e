package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/hersh/blockbattle/internal/netclient"
	"github.com/hersh/blockbattle/internal/protocol"
	"github.com/hersh/blockbattle/internal/tui"
)

func main() {
	serverAddr := flag.String("server", "localhost:7000", "match server address")
	roomID := flag.String("room", "", "room id to join (required)")
	userID := flag.String("user", "", "user id (defaults to OS username)")
	spectate := flag.Bool("spectate", false, "join as a spectator")
	flag.Parse()

	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "missing -room; ask the match server which room it serves")
		os.Exit(1)
	}

	id := *userID
	if id == "" {
		if u, err := user.Current(); err == nil && u.Username != "" {
			id = u.Username
		} else {
			id = uuid.NewString()[:8]
		}
	}

	mode := protocol.ModePlayer
	if *spectate {
		mode = protocol.ModeSpectator
	}

	// The netclient logs through the standard logger; stdout belongs to
	// the TUI once the program starts.
	log.SetOutput(io.Discard)

	client, err := netclient.Dial(*serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to server at %s: %v\n", *serverAddr, err)
		fmt.Fprintf(os.Stderr, "Make sure the match server is running (go run ./cmd/matchserver)\n")
		os.Exit(1)
	}
	defer client.Close()

	model := tui.NewModel(id, *roomID, mode, client)
	p := tea.NewProgram(model, tea.WithAltScreen())

	client.SetProgram(p)
	client.Start()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
