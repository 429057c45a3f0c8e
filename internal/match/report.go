package match

import (
	"net"

	"github.com/hersh/blockbattle/internal/protocol"
	"github.com/hersh/blockbattle/internal/wire"
)

// reportToLobby pushes the final standings to the lobby server over a
// fresh connection. Fire and forget: the lobby being down must never
// block match teardown, so failures are only logged.
func (c *Coordinator) reportToLobby(results []protocol.PlayerResult) {
	if c.lobbyAddr == "" {
		return
	}
	raw, err := net.DialTimeout("tcp", c.lobbyAddr, lobbyDialTimeout)
	if err != nil {
		c.log.Warn("lobby report failed", "addr", c.lobbyAddr, "error", err)
		return
	}
	conn := wire.NewConn(raw)
	defer conn.Close()

	report := &protocol.LobbyReport{
		Kind: protocol.MsgGameEnded,
		Data: protocol.LobbyReportData{
			RoomID:  c.roomID,
			Results: results,
		},
	}
	if err := conn.Send(report); err != nil {
		c.log.Warn("lobby report failed", "addr", c.lobbyAddr, "error", err)
		return
	}
	c.log.Info("reported results to lobby", "addr", c.lobbyAddr, "room", c.roomID)
}
