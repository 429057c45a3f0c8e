// Package protocol defines the messages exchanged between clients, the
// match server, and the lobby directory. Messages are flat JSON objects
// discriminated by a "type" field.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/hersh/blockbattle/internal/game"
)

// MessageType identifies the kind of message sent over the wire.
type MessageType string

const (
	// Client -> Server
	MsgHello     MessageType = "HELLO"
	MsgInput     MessageType = "INPUT"
	MsgLeaveGame MessageType = "LEAVE_GAME"

	// Server -> Client
	MsgWelcome   MessageType = "WELCOME"
	MsgError     MessageType = "ERROR"
	MsgGameStart MessageType = "GAME_START"
	MsgSnapshot  MessageType = "SNAPSHOT"
	MsgGameEnd   MessageType = "GAME_END"

	// Match server -> Lobby directory
	MsgGameEnded MessageType = "game_ended"
)

// Connection modes carried in HELLO.
const (
	ModePlayer    = "player"
	ModeSpectator = "spectator"
)

// Input actions carried in INPUT.
const (
	ActionLeft     = "LEFT"
	ActionRight    = "RIGHT"
	ActionDown     = "DOWN"
	ActionCW       = "CW"
	ActionCCW      = "CCW"
	ActionHardDrop = "HARD_DROP"
	ActionHold     = "HOLD"
)

// Message is the closed set of wire messages. Decode returns exactly one of
// the concrete types below; unrecognized type strings come back as *Unknown
// so a newer peer never breaks an older one.
type Message interface {
	Type() MessageType
}

// Hello opens the connection handshake.
type Hello struct {
	Kind   MessageType `json:"type"`
	UserID string      `json:"userId"`
	RoomID string      `json:"roomId"`
	Mode   string      `json:"mode"`
}

// Welcome acknowledges an admitted connection.
type Welcome struct {
	Kind     MessageType `json:"type"`
	Role     string      `json:"role"` // "P1", "P2" or "SPECTATOR"
	Mode     string      `json:"mode"`
	ReadOnly bool        `json:"readOnly"`
	Seed     int64       `json:"seed"`
}

// ErrorReply reports a protocol error to the offending connection.
type ErrorReply struct {
	Kind  MessageType `json:"type"`
	Error string      `json:"error"`
}

// Input is a player action. Effects are observed via snapshots.
type Input struct {
	Kind   MessageType `json:"type"`
	UserID string      `json:"userId"`
	Action string      `json:"action"`
}

// LeaveGame signals a deliberate exit.
type LeaveGame struct {
	Kind   MessageType `json:"type"`
	UserID string      `json:"userId"`
}

// GameStart announces the match to every connection.
type GameStart struct {
	Kind          MessageType `json:"type"`
	Players       []string    `json:"players"`
	Timestamp     float64     `json:"timestamp"` // unix seconds
	RoundDuration float64     `json:"roundDuration"`
}

// ActivePiece describes the falling piece inside a snapshot.
type ActivePiece struct {
	Shape game.PieceKind `json:"shape"`
	X     int            `json:"x"`
	Y     int            `json:"y"`
	Rot   int            `json:"rot"`
}

// Snapshot is a full point-in-time serialization of one player's simulation,
// pushed to every connection.
type Snapshot struct {
	Kind        MessageType      `json:"type"`
	Tick        int64            `json:"tick"`
	UserID      string           `json:"userId"`
	BoardMatrix [][]int          `json:"boardMatrix"`
	BoardRLE    string           `json:"boardRLE"`
	Active      *ActivePiece     `json:"active"`
	Hold        *game.PieceKind  `json:"hold"`
	Next        []game.PieceKind `json:"next"`
	Lines       int              `json:"lines"`
	Level       int              `json:"level"`
	GameOver    bool             `json:"gameOver"`
	Clearing    []int            `json:"clearing"`
	ClearAnim   bool             `json:"clearAnim"`
	At          float64          `json:"at"`
}

// PlayerResult is one entry of a match result list.
type PlayerResult struct {
	UserID      string `json:"userId"`
	Lines       int    `json:"lines"`
	Level       int    `json:"level"`
	GameOver    bool   `json:"gameOver"`
	FilledCells int    `json:"filledCells"`
	Winner      bool   `json:"winner"`
}

// GameEnd concludes the match for every connection.
type GameEnd struct {
	Kind     MessageType    `json:"type"`
	Results  []PlayerResult `json:"results"`
	Duration float64        `json:"duration"`
	Winner   string         `json:"winner"`
	Reason   string         `json:"reason"`
}

// LobbyReport is the fire-and-forget result report to the lobby directory.
type LobbyReport struct {
	Kind MessageType     `json:"type"`
	Data LobbyReportData `json:"data"`
}

// LobbyReportData is the payload of a LobbyReport.
type LobbyReportData struct {
	RoomID  string         `json:"room_id"`
	Results []PlayerResult `json:"results"`
}

// Unknown preserves a message whose type string is not recognized.
type Unknown struct {
	Kind MessageType
	Raw  json.RawMessage
}

func (m *Hello) Type() MessageType       { return MsgHello }
func (m *Welcome) Type() MessageType     { return MsgWelcome }
func (m *ErrorReply) Type() MessageType  { return MsgError }
func (m *Input) Type() MessageType       { return MsgInput }
func (m *LeaveGame) Type() MessageType   { return MsgLeaveGame }
func (m *GameStart) Type() MessageType   { return MsgGameStart }
func (m *Snapshot) Type() MessageType    { return MsgSnapshot }
func (m *GameEnd) Type() MessageType     { return MsgGameEnd }
func (m *LobbyReport) Type() MessageType { return MsgGameEnded }
func (m *Unknown) Type() MessageType     { return m.Kind }

// NewWelcome builds a WELCOME for the given role.
func NewWelcome(role, mode string, readOnly bool, seed int64) *Welcome {
	return &Welcome{Kind: MsgWelcome, Role: role, Mode: mode, ReadOnly: readOnly, Seed: seed}
}

// NewError builds an ERROR reply.
func NewError(msg string) *ErrorReply {
	return &ErrorReply{Kind: MsgError, Error: msg}
}

// Decode parses one wire frame into its concrete message type.
func Decode(raw []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("protocol: decode header: %w", err)
	}

	var msg Message
	switch head.Type {
	case MsgHello:
		msg = &Hello{}
	case MsgWelcome:
		msg = &Welcome{}
	case MsgError:
		msg = &ErrorReply{}
	case MsgInput:
		msg = &Input{}
	case MsgLeaveGame:
		msg = &LeaveGame{}
	case MsgGameStart:
		msg = &GameStart{}
	case MsgSnapshot:
		msg = &Snapshot{}
	case MsgGameEnd:
		msg = &GameEnd{}
	case MsgGameEnded:
		msg = &LobbyReport{}
	default:
		return &Unknown{Kind: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", head.Type, err)
	}
	return msg, nil
}
