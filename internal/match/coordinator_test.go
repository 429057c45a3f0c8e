package match

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hersh/blockbattle/internal/config"
	"github.com/hersh/blockbattle/internal/protocol"
	"github.com/hersh/blockbattle/internal/wire"
)

const recvTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(roomID string) *config.Config {
	cfg := config.Default()
	cfg.Server.RoomID = roomID
	cfg.Lobby.Addr = ""
	cfg.Match.Seed = 42
	cfg.Match.TickInterval = 5 * time.Millisecond
	return cfg
}

func startCoordinator(t *testing.T, cfg *config.Config) (*Coordinator, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := New(cfg, testLogger())
	go c.Serve(ln)
	t.Cleanup(func() { c.endMatch("test teardown") })
	return c, ln.Addr().String()
}

type testClient struct {
	t    *testing.T
	raw  net.Conn
	conn *wire.Conn
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return &testClient{t: t, raw: raw, conn: wire.NewConn(raw)}
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	require.NoError(c.t, c.conn.Send(msg))
}

func (c *testClient) recv() protocol.Message {
	c.t.Helper()
	c.raw.SetReadDeadline(time.Now().Add(recvTimeout))
	raw, err := c.conn.Receive()
	require.NoError(c.t, err)
	msg, err := protocol.Decode(raw)
	require.NoError(c.t, err)
	return msg
}

// recvType discards messages until one of the wanted type arrives.
func (c *testClient) recvType(want protocol.MessageType) protocol.Message {
	c.t.Helper()
	deadline := time.Now().Add(recvTimeout)
	for time.Now().Before(deadline) {
		if msg := c.recv(); msg.Type() == want {
			return msg
		}
	}
	c.t.Fatalf("no %s before deadline", want)
	return nil
}

func (c *testClient) hello(userID, roomID, mode string) protocol.Message {
	c.t.Helper()
	c.send(&protocol.Hello{Kind: protocol.MsgHello, UserID: userID, RoomID: roomID, Mode: mode})
	return c.recv()
}

func (c *testClient) input(userID, action string) {
	c.t.Helper()
	c.send(&protocol.Input{Kind: protocol.MsgInput, UserID: userID, Action: action})
}

// joinPlayers runs the two-player handshake and consumes each side's
// GAME_START so tests begin from a running match.
func joinPlayers(t *testing.T, addr, roomID string) (*testClient, *testClient) {
	t.Helper()
	p1 := dialClient(t, addr)
	w1, ok := p1.hello("alice", roomID, protocol.ModePlayer).(*protocol.Welcome)
	require.True(t, ok)
	require.Equal(t, "P1", w1.Role)

	p2 := dialClient(t, addr)
	w2, ok := p2.hello("bob", roomID, protocol.ModePlayer).(*protocol.Welcome)
	require.True(t, ok)
	require.Equal(t, "P2", w2.Role)

	p1.recvType(protocol.MsgGameStart)
	p2.recvType(protocol.MsgGameStart)
	return p1, p2
}

func TestCoordinator_HandshakeAndStart(t *testing.T) {
	cfg := testConfig("room-1")
	_, addr := startCoordinator(t, cfg)

	p1 := dialClient(t, addr)
	w1, ok := p1.hello("alice", "room-1", protocol.ModePlayer).(*protocol.Welcome)
	require.True(t, ok)
	assert.Equal(t, "P1", w1.Role)
	assert.Equal(t, protocol.ModePlayer, w1.Mode)
	assert.False(t, w1.ReadOnly)
	assert.Equal(t, int64(42), w1.Seed)

	p2 := dialClient(t, addr)
	w2, ok := p2.hello("bob", "room-1", protocol.ModePlayer).(*protocol.Welcome)
	require.True(t, ok)
	assert.Equal(t, "P2", w2.Role)

	// The first thing after WELCOME on each connection is GAME_START.
	gs1, ok := p1.recv().(*protocol.GameStart)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, gs1.Players)
	assert.InDelta(t, 90, gs1.RoundDuration, 0.001)
	assert.Greater(t, gs1.Timestamp, 0.0)

	gs2, ok := p2.recv().(*protocol.GameStart)
	require.True(t, ok)
	assert.Equal(t, gs1.Players, gs2.Players)

	// Initial snapshots for both players follow.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		snap := p1.recvType(protocol.MsgSnapshot).(*protocol.Snapshot)
		seen[snap.UserID] = true
		require.NotNil(t, snap.Active)
		assert.Len(t, snap.Next, 3)
		assert.Len(t, snap.BoardMatrix, 20)
		assert.False(t, snap.GameOver)
	}
	assert.True(t, seen["alice"] && seen["bob"])
}

func TestCoordinator_SharedSeed(t *testing.T) {
	cfg := testConfig("room-1")
	_, addr := startCoordinator(t, cfg)
	p1, _ := joinPlayers(t, addr, "room-1")

	var alice, bob *protocol.Snapshot
	for alice == nil || bob == nil {
		snap := p1.recvType(protocol.MsgSnapshot).(*protocol.Snapshot)
		switch snap.UserID {
		case "alice":
			if alice == nil {
				alice = snap
			}
		case "bob":
			if bob == nil {
				bob = snap
			}
		}
	}
	require.NotNil(t, alice.Active)
	require.NotNil(t, bob.Active)
	assert.Equal(t, alice.Active.Shape, bob.Active.Shape)
	assert.Equal(t, alice.Next, bob.Next)
}

func TestCoordinator_RejectsWrongRoom(t *testing.T) {
	cfg := testConfig("room-1")
	_, addr := startCoordinator(t, cfg)

	c := dialClient(t, addr)
	reply, ok := c.hello("alice", "other-room", protocol.ModePlayer).(*protocol.ErrorReply)
	require.True(t, ok)
	assert.Equal(t, "Invalid room", reply.Error)
}

func TestCoordinator_RejectsThirdPlayer(t *testing.T) {
	cfg := testConfig("room-1")
	_, addr := startCoordinator(t, cfg)
	joinPlayers(t, addr, "room-1")

	c := dialClient(t, addr)
	reply, ok := c.hello("carol", "room-1", protocol.ModePlayer).(*protocol.ErrorReply)
	require.True(t, ok)
	assert.Equal(t, "Room full", reply.Error)
}

// A HELLO reusing a joined player's id must not steal the slot or reset
// that player's simulation.
func TestCoordinator_RejectsDuplicateUserID(t *testing.T) {
	cfg := testConfig("room-dup")
	_, addr := startCoordinator(t, cfg)
	p1, _ := joinPlayers(t, addr, "room-dup")

	filled := func(s *protocol.Snapshot) int {
		n := 0
		for _, row := range s.BoardMatrix {
			for _, cell := range row {
				if cell != 0 {
					n++
				}
			}
		}
		return n
	}

	// Lock a piece so alice's board carries visible state.
	p1.input("alice", protocol.ActionHardDrop)
	var before int
	deadline := time.Now().Add(recvTimeout)
	for before == 0 {
		require.True(t, time.Now().Before(deadline), "no locked cells for alice")
		snap := p1.recvType(protocol.MsgSnapshot).(*protocol.Snapshot)
		if snap.UserID == "alice" {
			before = filled(snap)
		}
	}

	imp := dialClient(t, addr)
	reply, ok := imp.hello("alice", "room-dup", protocol.ModePlayer).(*protocol.ErrorReply)
	require.True(t, ok, "duplicate id must be rejected, not welcomed")
	assert.Equal(t, "Room full", reply.Error)

	// The original connection still drives the player and its board is intact.
	p1.input("alice", protocol.ActionLeft)
	for {
		require.True(t, time.Now().Before(deadline), "no snapshot after the move")
		snap := p1.recvType(protocol.MsgSnapshot).(*protocol.Snapshot)
		if snap.UserID != "alice" || snap.Active == nil || snap.Active.X != 3 {
			continue
		}
		assert.Equal(t, before, filled(snap))
		return
	}
}

func TestCoordinator_RejectsDuplicateBeforeStart(t *testing.T) {
	cfg := testConfig("room-dup2")
	_, addr := startCoordinator(t, cfg)

	p1 := dialClient(t, addr)
	w, ok := p1.hello("alice", "room-dup2", protocol.ModePlayer).(*protocol.Welcome)
	require.True(t, ok)
	require.Equal(t, "P1", w.Role)

	dup := dialClient(t, addr)
	reply, ok := dup.hello("alice", "room-dup2", protocol.ModePlayer).(*protocol.ErrorReply)
	require.True(t, ok)
	assert.Equal(t, "Already joined", reply.Error)
}

func TestCoordinator_SpectatorCatchUp(t *testing.T) {
	cfg := testConfig("room-1")
	_, addr := startCoordinator(t, cfg)
	joinPlayers(t, addr, "room-1")

	watcher := dialClient(t, addr)
	w, ok := watcher.hello("watcher", "room-1", protocol.ModeSpectator).(*protocol.Welcome)
	require.True(t, ok)
	assert.Equal(t, "SPECTATOR", w.Role)
	assert.Equal(t, protocol.ModeSpectator, w.Mode)
	assert.True(t, w.ReadOnly)

	gs := watcher.recvType(protocol.MsgGameStart).(*protocol.GameStart)
	assert.Equal(t, []string{"alice", "bob"}, gs.Players)

	seen := map[string]bool{}
	for !seen["alice"] || !seen["bob"] {
		snap := watcher.recvType(protocol.MsgSnapshot).(*protocol.Snapshot)
		seen[snap.UserID] = true
	}
}

func TestCoordinator_SpectatorInputIgnored(t *testing.T) {
	cfg := testConfig("room-1")
	_, addr := startCoordinator(t, cfg)
	p1, _ := joinPlayers(t, addr, "room-1")

	watcher := dialClient(t, addr)
	_, ok := watcher.hello("watcher", "room-1", protocol.ModeSpectator).(*protocol.Welcome)
	require.True(t, ok)

	// Even naming a player in the payload must not move alice's piece.
	watcher.input("alice", protocol.ActionHardDrop)
	time.Sleep(50 * time.Millisecond)

	p1.input("alice", protocol.ActionLeft)
	deadline := time.Now().Add(recvTimeout)
	for {
		require.True(t, time.Now().Before(deadline), "no snapshot for alice's move")
		snap := p1.recvType(protocol.MsgSnapshot).(*protocol.Snapshot)
		if snap.UserID != "alice" || snap.Active == nil || snap.Active.X != 3 {
			continue
		}
		// A hard drop would have locked cells into the board.
		for _, row := range snap.BoardMatrix {
			for _, cell := range row {
				assert.Zero(t, cell)
			}
		}
		return
	}
}

func TestCoordinator_PlayerDisconnectEndsMatch(t *testing.T) {
	lobbyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lobbyLn.Close()

	reports := make(chan *protocol.LobbyReport, 1)
	go func() {
		conn, err := lobbyLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		wc := wire.NewConn(conn)
		raw, err := wc.Receive()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			return
		}
		if rep, ok := msg.(*protocol.LobbyReport); ok {
			reports <- rep
		}
	}()

	cfg := testConfig("room-1")
	cfg.Lobby.Addr = lobbyLn.Addr().String()
	coord, addr := startCoordinator(t, cfg)
	p1, p2 := joinPlayers(t, addr, "room-1")

	p2.raw.Close()

	end := p1.recvType(protocol.MsgGameEnd).(*protocol.GameEnd)
	assert.Equal(t, ReasonPlayerExit, end.Reason)
	require.Len(t, end.Results, 2)

	select {
	case rep := <-reports:
		assert.Equal(t, "room-1", rep.Data.RoomID)
		assert.Len(t, rep.Data.Results, 2)
	case <-time.After(recvTimeout):
		t.Fatal("no lobby report")
	}

	select {
	case <-coord.Done():
	case <-time.After(recvTimeout):
		t.Fatal("coordinator did not settle")
	}
}

func TestCoordinator_LeaveGameEndsMatch(t *testing.T) {
	cfg := testConfig("room-1")
	_, addr := startCoordinator(t, cfg)
	p1, p2 := joinPlayers(t, addr, "room-1")

	p2.send(&protocol.LeaveGame{Kind: protocol.MsgLeaveGame, UserID: "bob"})

	end1 := p1.recvType(protocol.MsgGameEnd).(*protocol.GameEnd)
	assert.Equal(t, ReasonPlayerExit, end1.Reason)
	end2 := p2.recvType(protocol.MsgGameEnd).(*protocol.GameEnd)
	assert.Equal(t, ReasonPlayerExit, end2.Reason)
}

func TestCoordinator_TimeLimitSurvivorWins(t *testing.T) {
	cfg := testConfig("room-1")
	cfg.Match.RoundDuration = 300 * time.Millisecond
	_, addr := startCoordinator(t, cfg)
	p1, p2 := joinPlayers(t, addr, "room-1")

	// Two hard drops lock eight cells onto alice's board; bob keeps his clean.
	p1.input("alice", protocol.ActionHardDrop)
	p1.input("alice", protocol.ActionHardDrop)

	end := p2.recvType(protocol.MsgGameEnd).(*protocol.GameEnd)
	assert.Equal(t, ReasonTimeLimit, end.Reason)
	assert.Equal(t, "bob", end.Winner)
	require.Len(t, end.Results, 2)
	assert.GreaterOrEqual(t, end.Duration, 0.3)
	for _, r := range end.Results {
		assert.Equal(t, r.UserID == "bob", r.Winner)
	}
}

func TestCoordinator_AllPlayersGameOver(t *testing.T) {
	cfg := testConfig("room-1")
	_, addr := startCoordinator(t, cfg)
	p1, p2 := joinPlayers(t, addr, "room-1")

	// Stacking hard drops at the spawn column tops out well within 30 pieces.
	for i := 0; i < 30; i++ {
		p1.input("alice", protocol.ActionHardDrop)
		p2.input("bob", protocol.ActionHardDrop)
	}

	end := p1.recvType(protocol.MsgGameEnd).(*protocol.GameEnd)
	assert.Equal(t, ReasonAllGameOver, end.Reason)
	require.Len(t, end.Results, 2)
	for _, r := range end.Results {
		assert.True(t, r.GameOver)
	}
	assert.NotEmpty(t, end.Winner)
	p2.recvType(protocol.MsgGameEnd)
}

func TestCoordinator_InsufficientPlayers(t *testing.T) {
	cfg := testConfig("room-1")
	cfg.Match.JoinTimeout = 100 * time.Millisecond
	coord, addr := startCoordinator(t, cfg)

	p1 := dialClient(t, addr)
	_, ok := p1.hello("alice", "room-1", protocol.ModePlayer).(*protocol.Welcome)
	require.True(t, ok)

	end := p1.recvType(protocol.MsgGameEnd).(*protocol.GameEnd)
	assert.Equal(t, ReasonInsufficientPlayers, end.Reason)
	require.Len(t, end.Results, 1)
	assert.Equal(t, "alice", end.Results[0].UserID)

	select {
	case <-coord.Done():
	case <-time.After(recvTimeout):
		t.Fatal("coordinator did not settle")
	}
}
