package match

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hersh/blockbattle/internal/config"
	"github.com/hersh/blockbattle/internal/game"
	"github.com/hersh/blockbattle/internal/protocol"
	"github.com/hersh/blockbattle/internal/wire"
)

// Match end reasons reported in GAME_END and to the lobby.
const (
	ReasonAllGameOver         = "all_players_game_over"
	ReasonTimeLimit           = "time_limit"
	ReasonAbortedNoPlayers    = "aborted_no_players"
	ReasonPlayerExit          = "player_exit"
	ReasonInsufficientPlayers = "insufficient_players"
)

const (
	acceptPollInterval = time.Second
	lingerPeriod       = time.Second
	lobbyDialTimeout   = 3 * time.Second
)

// Coordinator runs one match end to end: it admits connections, drives
// every player's simulation on a fixed tick, broadcasts snapshots, and
// settles the result. All mutable state sits behind a single mutex;
// helpers that send on the network gather what they need under the lock
// and write outside it, so a slow client can never stall the tick.
type Coordinator struct {
	log       *slog.Logger
	roomID    string
	lobbyAddr string
	seed      int64

	roundDuration    time.Duration
	tickInterval     time.Duration
	snapshotInterval time.Duration
	joinTimeout      time.Duration
	gracePeriod      time.Duration
	maxFrameSize     uint32

	now func() time.Time

	mu           sync.Mutex
	roster       *roster
	started      bool
	ended        bool
	startTime    time.Time
	endTime      time.Time
	tick         int64
	lastSnapshot time.Time

	done chan struct{} // closed exactly once, when the match ends
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the wall clock. Tests use this to step time.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New builds a coordinator for one room from the server configuration.
func New(cfg *config.Config, log *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:              log,
		roomID:           cfg.Server.RoomID,
		lobbyAddr:        cfg.Lobby.Addr,
		seed:             cfg.Match.Seed,
		roundDuration:    cfg.Match.RoundDuration,
		tickInterval:     cfg.Match.TickInterval,
		snapshotInterval: cfg.Match.SnapshotInterval,
		joinTimeout:      cfg.Match.JoinTimeout,
		gracePeriod:      cfg.Match.GracePeriod,
		maxFrameSize:     cfg.Server.MaxFrameSize,
		now:              time.Now,
		roster:           newRoster(),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Done is closed when the match has ended and results are settled.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Serve accepts connections on ln until the match ends, then closes every
// remaining connection after a short linger and returns. If both player
// slots are still open when the join timeout expires, the match ends with
// reason "insufficient_players".
func (c *Coordinator) Serve(ln net.Listener) error {
	defer ln.Close()
	joinDeadline := c.now().Add(c.joinTimeout)

	type deadliner interface{ SetDeadline(time.Time) error }
	dl, _ := ln.(deadliner)

	for !c.isEnded() {
		if dl != nil {
			dl.SetDeadline(time.Now().Add(acceptPollInterval))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if c.joinWindowExpired(joinDeadline) {
					c.log.Warn("join timeout with open player slots", "room", c.roomID)
					c.endMatch(ReasonInsufficientPlayers)
				}
				continue
			}
			if errors.Is(err, net.ErrClosed) || c.isEnded() {
				break
			}
			c.log.Warn("accept failed", "error", err)
			continue
		}
		go c.handleConn(wire.NewConn(conn, wire.WithMaxFrameSize(c.maxFrameSize)))
	}

	// The loop also exits when the listener is closed from outside
	// before the match ends; nothing to settle in that case.
	if !c.isEnded() {
		return nil
	}
	<-c.done
	time.Sleep(lingerPeriod)
	c.closeAll()
	return nil
}

func (c *Coordinator) isEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *Coordinator) joinWindowExpired(deadline time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.started && !c.ended && c.roster.playerCount() < MaxPlayers && c.now().After(deadline)
}

func (c *Coordinator) closeAll() {
	c.mu.Lock()
	conns := c.roster.recipients("")
	c.mu.Unlock()
	for _, r := range conns {
		r.conn.Close()
	}
}

// handleConn owns one connection from admission to teardown. Malformed
// frames are logged and skipped; a player dropping before the match has
// ended ends it immediately.
func (c *Coordinator) handleConn(conn *wire.Conn) {
	defer conn.Close()

	var userID, mode string
	for !c.isEnded() {
		raw, err := conn.Receive()
		if err != nil {
			break
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			c.log.Debug("undecodable frame", "remote", conn.RemoteAddr(), "error", err)
			continue
		}

		switch m := msg.(type) {
		case *protocol.Hello:
			if !c.admit(conn, m) {
				continue
			}
			userID = m.UserID
			mode = m.Mode
			c.log.Info("joined", "user", userID, "mode", mode, "room", c.roomID)
			if mode == protocol.ModeSpectator {
				c.sendCatchUp(conn)
			} else {
				c.maybeStart()
			}

		case *protocol.Input:
			if userID != "" && mode == protocol.ModePlayer {
				c.handleInput(userID, m.Action)
			}

		case *protocol.LeaveGame:
			if userID == "" {
				continue
			}
			if mode == protocol.ModeSpectator {
				c.dropSpectator(userID)
				return
			}
			c.log.Info("player left", "user", userID)
			c.endMatch(ReasonPlayerExit)
			return

		case *protocol.Unknown:
			c.log.Debug("unknown message type", "type", m.Kind, "remote", conn.RemoteAddr())
		}
	}

	if userID == "" {
		return
	}
	if mode == protocol.ModeSpectator {
		c.dropSpectator(userID)
		return
	}
	if !c.isEnded() {
		c.log.Info("player disconnected", "user", userID)
		c.endMatch(ReasonPlayerExit)
	}
}

// admit validates a HELLO, registers the connection, and sends the WELCOME
// or ERROR reply. The reply goes out under the mutex so no broadcast can
// reach this connection ahead of its WELCOME; broadcasts gather recipients
// under the same lock.
func (c *Coordinator) admit(conn *wire.Conn, m *protocol.Hello) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var reply protocol.Message
	admitted := false
	switch {
	case m.RoomID != c.roomID:
		reply = protocol.NewError("Invalid room")
	case m.Mode == protocol.ModeSpectator:
		c.roster.addSpectator(m.UserID, conn)
		reply = protocol.NewWelcome("SPECTATOR", protocol.ModeSpectator, true, c.seed)
		admitted = true
	default:
		entry, err := c.roster.addPlayer(m.UserID, conn, game.NewSimulation(m.UserID, c.seed, game.WithClock(c.now)))
		switch {
		case errors.Is(err, errRoomFull):
			reply = protocol.NewError("Room full")
		case err != nil:
			reply = protocol.NewError("Already joined")
		default:
			reply = protocol.NewWelcome(entry.role, protocol.ModePlayer, false, c.seed)
			admitted = true
		}
	}
	if err := conn.Send(reply); err != nil {
		c.log.Debug("handshake reply failed", "user", m.UserID, "error", err)
	}
	return admitted
}

func (c *Coordinator) dropSpectator(userID string) {
	c.mu.Lock()
	c.roster.removeSpectator(userID)
	c.mu.Unlock()
}

// maybeStart launches the match once both player slots fill.
func (c *Coordinator) maybeStart() {
	c.mu.Lock()
	if c.started || c.ended || c.roster.playerCount() < MaxPlayers {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.startTime = c.now()
	c.lastSnapshot = c.startTime
	for _, e := range c.roster.entries() {
		e.sim.Spawn()
	}
	players := c.roster.playerIDs()
	start := &protocol.GameStart{
		Kind:          protocol.MsgGameStart,
		Players:       players,
		Timestamp:     float64(c.startTime.UnixNano()) / float64(time.Second),
		RoundDuration: c.roundDuration.Seconds(),
	}
	c.mu.Unlock()

	c.log.Info("match started", "room", c.roomID, "players", players)
	c.broadcast(start, "")
	for _, id := range players {
		c.sendSnapshot(id)
	}
	go c.tickLoop()
}

// sendCatchUp brings a spectator who joined mid-match up to date on its
// own connection only.
func (c *Coordinator) sendCatchUp(conn *wire.Conn) {
	c.mu.Lock()
	if !c.started || c.ended {
		c.mu.Unlock()
		return
	}
	players := c.roster.playerIDs()
	start := &protocol.GameStart{
		Kind:          protocol.MsgGameStart,
		Players:       players,
		Timestamp:     float64(c.startTime.UnixNano()) / float64(time.Second),
		RoundDuration: c.roundDuration.Seconds(),
	}
	c.mu.Unlock()

	if err := conn.Send(start); err != nil {
		return
	}
	for _, id := range players {
		if snap := c.buildSnapshot(id); snap != nil {
			conn.Send(snap)
		}
	}
}

// handleInput applies one action to the player's simulation and, when the
// board changed, pushes a fresh snapshot to everyone.
func (c *Coordinator) handleInput(userID, action string) {
	c.mu.Lock()
	if !c.started || c.ended {
		c.mu.Unlock()
		return
	}
	entry := c.roster.player(userID)
	if entry == nil || entry.sim.GameOver() {
		c.mu.Unlock()
		return
	}

	var changed bool
	switch action {
	case protocol.ActionLeft:
		changed = entry.sim.Move(game.Left)
	case protocol.ActionRight:
		changed = entry.sim.Move(game.Right)
	case protocol.ActionDown:
		changed = entry.sim.Move(game.Down)
	case protocol.ActionCW:
		changed = entry.sim.Rotate(true)
	case protocol.ActionCCW:
		changed = entry.sim.Rotate(false)
	case protocol.ActionHardDrop:
		changed = entry.sim.HardDrop()
	case protocol.ActionHold:
		changed = entry.sim.Hold()
	default:
		c.log.Debug("unknown action", "user", userID, "action", action)
	}
	c.mu.Unlock()

	if changed {
		c.sendSnapshot(userID)
	}
}

// buildSnapshot captures one player's full visible state, or nil if the
// player is gone.
func (c *Coordinator) buildSnapshot(userID string) *protocol.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.roster.player(userID)
	if entry == nil {
		return nil
	}
	sim := entry.sim

	snap := &protocol.Snapshot{
		Kind:        protocol.MsgSnapshot,
		Tick:        c.tick,
		UserID:      userID,
		BoardMatrix: sim.Board(),
		BoardRLE:    sim.BoardRLE(),
		Next:        sim.NextPreview(),
		Lines:       sim.Lines(),
		Level:       sim.Level(),
		GameOver:    sim.GameOver(),
		Clearing:    sim.Clearing(),
		ClearAnim:   sim.ClearAnim(),
		At:          float64(c.now().UnixNano()) / float64(time.Second),
	}
	if kind, x, y, rot, ok := sim.Active(); ok {
		snap.Active = &protocol.ActivePiece{Shape: kind, X: x, Y: y, Rot: rot}
	}
	if kind, ok := sim.HoldPiece(); ok {
		snap.Hold = &kind
	}
	return snap
}

// sendSnapshot broadcasts one player's current state to every connection.
func (c *Coordinator) sendSnapshot(userID string) {
	if snap := c.buildSnapshot(userID); snap != nil {
		c.broadcast(snap, "")
	}
}

// broadcast sends msg to every admitted connection except the excluded
// user. Send failures are logged and otherwise ignored; the failing
// connection's own handler notices the break and cleans up.
func (c *Coordinator) broadcast(msg protocol.Message, exclude string) {
	c.mu.Lock()
	targets := c.roster.recipients(exclude)
	c.mu.Unlock()
	for _, t := range targets {
		if err := t.conn.Send(msg); err != nil {
			c.log.Debug("broadcast send failed", "user", t.userID, "error", err)
		}
	}
}

// tickLoop drives every simulation at the fixed tick rate, emits change
// and heartbeat snapshots, and checks the end conditions each pass.
func (c *Coordinator) tickLoop() {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		if c.isEnded() {
			return
		}

		c.mu.Lock()
		c.tick++
		var changed []string
		for _, e := range c.roster.entries() {
			if e.sim.Update() {
				changed = append(changed, e.userID)
			}
		}
		heartbeat := c.now().Sub(c.lastSnapshot) >= c.snapshotInterval
		if heartbeat {
			c.lastSnapshot = c.now()
		}
		targets := changed
		if heartbeat {
			targets = c.roster.playerIDs()
		}
		reason := c.endReasonLocked()
		c.mu.Unlock()

		for _, id := range targets {
			c.sendSnapshot(id)
		}
		if reason != "" {
			c.endMatch(reason)
			return
		}
	}
}

// endReasonLocked evaluates the end conditions in priority order. Caller
// holds the mutex.
func (c *Coordinator) endReasonLocked() string {
	elapsed := c.now().Sub(c.startTime)
	if c.roster.playerCount() == 0 {
		if elapsed > c.gracePeriod {
			return ReasonAbortedNoPlayers
		}
		return ""
	}
	allOver := true
	for _, e := range c.roster.entries() {
		if !e.sim.GameOver() {
			allOver = false
			break
		}
	}
	if allOver {
		return ReasonAllGameOver
	}
	if elapsed >= c.roundDuration {
		return ReasonTimeLimit
	}
	return ""
}

// endMatch settles the result exactly once: ranks the standings,
// broadcasts GAME_END, and reports to the lobby. Safe to call from any
// path; later calls are no-ops.
func (c *Coordinator) endMatch(reason string) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.endTime = c.now()
	results, winner := computeResults(c.roster.entries())
	var duration float64
	if c.started {
		duration = c.endTime.Sub(c.startTime).Seconds()
	}
	c.mu.Unlock()

	c.log.Info("match ended", "room", c.roomID, "reason", reason, "winner", winner, "duration", duration)
	c.broadcast(&protocol.GameEnd{
		Kind:     protocol.MsgGameEnd,
		Results:  results,
		Duration: duration,
		Winner:   winner,
		Reason:   reason,
	}, "")
	c.reportToLobby(results)
	close(c.done)
}
