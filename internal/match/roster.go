package match

import (
	"errors"
	"fmt"

	"github.com/hersh/blockbattle/internal/game"
	"github.com/hersh/blockbattle/internal/wire"
)

// MaxPlayers is the player cap per match; spectators are unlimited.
const MaxPlayers = 2

// errRoomFull is returned once MaxPlayers players have joined.
var errRoomFull = errors.New("room full")

// playerEntry ties an admitted player's connection to its simulation.
type playerEntry struct {
	userID string
	role   string // "P1" or "P2", by join order, never reassigned
	conn   *wire.Conn
	sim    *game.Simulation
}

// roster tracks the connection sets for one match. It performs no locking
// of its own; the coordinator's mutex guards every access.
type roster struct {
	players    map[string]*playerEntry
	joinOrder  []string
	spectators map[string]*wire.Conn
}

func newRoster() *roster {
	return &roster{
		players:    make(map[string]*playerEntry),
		spectators: make(map[string]*wire.Conn),
	}
}

// addPlayer admits userID into the next free slot and returns its entry.
// Fails once MaxPlayers players have joined, duplicate ids included; a
// departed player's slot is never reissued.
func (r *roster) addPlayer(userID string, conn *wire.Conn, sim *game.Simulation) (*playerEntry, error) {
	if len(r.players) >= MaxPlayers {
		return nil, errRoomFull
	}
	if _, ok := r.players[userID]; ok {
		return nil, fmt.Errorf("user %s already joined", userID)
	}
	entry := &playerEntry{
		userID: userID,
		role:   fmt.Sprintf("P%d", len(r.players)+1),
		conn:   conn,
		sim:    sim,
	}
	r.joinOrder = append(r.joinOrder, userID)
	r.players[userID] = entry
	return entry, nil
}

func (r *roster) player(userID string) *playerEntry {
	return r.players[userID]
}

func (r *roster) playerCount() int {
	return len(r.players)
}

// playerIDs returns player ids in join order.
func (r *roster) playerIDs() []string {
	out := make([]string, len(r.joinOrder))
	copy(out, r.joinOrder)
	return out
}

// entries returns player entries in join order.
func (r *roster) entries() []*playerEntry {
	out := make([]*playerEntry, 0, len(r.players))
	for _, id := range r.joinOrder {
		if e, ok := r.players[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *roster) addSpectator(userID string, conn *wire.Conn) {
	r.spectators[userID] = conn
}

func (r *roster) removeSpectator(userID string) {
	delete(r.spectators, userID)
}

// recipients returns every admitted connection except the excluded user.
func (r *roster) recipients(exclude string) []recipient {
	out := make([]recipient, 0, len(r.players)+len(r.spectators))
	for id, e := range r.players {
		if id != exclude {
			out = append(out, recipient{userID: id, conn: e.conn})
		}
	}
	for id, conn := range r.spectators {
		if id != exclude {
			out = append(out, recipient{userID: id, conn: conn})
		}
	}
	return out
}

type recipient struct {
	userID string
	conn   *wire.Conn
}
