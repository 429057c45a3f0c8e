// Package game implements the server-authoritative simulation for one
// player's board: piece movement, the 7-bag randomizer, line clears with a
// short removal animation, and gravity timing.
package game

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const (
	BoardWidth  = 10
	BoardHeight = 20

	// SpawnX is the canonical spawn column for every piece.
	SpawnX = 4

	// previewCount is the guaranteed lookahead in the piece queue.
	previewCount = 3

	// ClearDelay is how long cleared rows stay visible before removal.
	ClearDelay = 350 * time.Millisecond

	baseDropInterval = time.Second
	minDropInterval  = 100 * time.Millisecond
	dropStep         = 100 * time.Millisecond
)

// PieceKind names one of the seven tetromino shapes.
type PieceKind string

const (
	KindI PieceKind = "I"
	KindO PieceKind = "O"
	KindT PieceKind = "T"
	KindS PieceKind = "S"
	KindZ PieceKind = "Z"
	KindJ PieceKind = "J"
	KindL PieceKind = "L"
)

// Kinds lists all piece kinds in color-index order.
var Kinds = []PieceKind{KindI, KindO, KindT, KindS, KindZ, KindJ, KindL}

// baseShapes holds each kind's rotation-0 matrix.
var baseShapes = map[PieceKind][][]int{
	KindI: {{1, 1, 1, 1}},
	KindO: {{1, 1}, {1, 1}},
	KindT: {{0, 1, 0}, {1, 1, 1}},
	KindS: {{0, 1, 1}, {1, 1, 0}},
	KindZ: {{1, 1, 0}, {0, 1, 1}},
	KindJ: {{1, 0, 0}, {1, 1, 1}},
	KindL: {{0, 0, 1}, {1, 1, 1}},
}

// ColorIndex returns the 1-based index of k, used as the board cell value
// when a piece locks. 0 always means an empty cell.
func ColorIndex(k PieceKind) int {
	for i, kind := range Kinds {
		if kind == k {
			return i + 1
		}
	}
	return 0
}

// rotateCW turns an RxC matrix into a CxR matrix rotated 90 degrees
// clockwise.
func rotateCW(m [][]int) [][]int {
	rows := len(m)
	cols := len(m[0])
	out := make([][]int, cols)
	for c := 0; c < cols; c++ {
		out[c] = make([]int, rows)
		for r := 0; r < rows; r++ {
			out[c][rows-1-r] = m[r][c]
		}
	}
	return out
}

// ShapeAt returns kind's matrix at the given rotation state in [0,4).
func ShapeAt(kind PieceKind, rot int) [][]int {
	shape := baseShapes[kind]
	for i := 0; i < rot%4; i++ {
		shape = rotateCW(shape)
	}
	return shape
}

// kickOffsets are tried in order when a rotation collides in place.
var kickOffsets = [][2]int{{0, 0}, {-1, 0}, {1, 0}, {0, -1}, {-1, -1}, {1, -1}}

// Direction is a lateral or downward move request.
type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
	Down  Direction = "down"
)

// Simulation owns one player's board and falling piece. It performs no
// locking of its own; the match coordinator serializes access.
type Simulation struct {
	userID string

	board [][]int
	lines int
	level int

	gameOver bool

	current PieceKind // empty when no piece is falling
	x, y    int
	rot     int

	bag  []PieceKind
	next []PieceKind
	rng  *rand.Rand

	hold    PieceKind
	canHold bool

	lastDrop     time.Time
	dropInterval time.Duration

	clearing   []int
	clearStart time.Time

	now func() time.Time
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithClock injects a time source, letting tests drive gravity and the
// clear animation without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Simulation) { s.now = now }
}

// NewSimulation creates a fresh simulation. Two simulations built with the
// same seed draw identical piece sequences.
func NewSimulation(userID string, seed int64, opts ...Option) *Simulation {
	s := &Simulation{
		userID:       userID,
		level:        1,
		canHold:      true,
		dropInterval: baseDropInterval,
		rng:          rand.New(rand.NewSource(seed)),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.board = make([][]int, BoardHeight)
	for y := range s.board {
		s.board[y] = make([]int, BoardWidth)
	}
	s.refillBag()
	s.lastDrop = s.now()
	return s
}

// refillBag shuffles a fresh 7-bag when needed and tops the preview queue
// back up to previewCount entries.
func (s *Simulation) refillBag() {
	fill := func() {
		pieces := make([]PieceKind, len(Kinds))
		copy(pieces, Kinds)
		// Fisher-Yates
		for i := len(pieces) - 1; i > 0; i-- {
			j := s.rng.Intn(i + 1)
			pieces[i], pieces[j] = pieces[j], pieces[i]
		}
		s.bag = append(s.bag, pieces...)
	}
	if len(s.bag) == 0 {
		fill()
	}
	for len(s.next) < previewCount {
		if len(s.bag) == 0 {
			fill()
		}
		s.next = append(s.next, s.bag[0])
		s.bag = s.bag[1:]
	}
}

// Spawn takes the next queued kind and places it at the spawn position.
// Returns false and flags game over when the spawn position already
// collides; the board is left untouched in that case.
func (s *Simulation) Spawn() bool {
	if len(s.next) == 0 {
		s.refillBag()
	}
	s.current = s.next[0]
	s.next = s.next[1:]
	s.x, s.y, s.rot = SpawnX, 0, 0
	s.canHold = true
	s.refillBag()

	if s.collides(0, 0, s.rot) {
		s.gameOver = true
		s.current = ""
		return false
	}
	return true
}

// collides reports whether the current piece at offset (dx,dy) and rotation
// rot would leave the board or overlap a locked cell. Cells above the
// visible board (row < 0) never collide.
func (s *Simulation) collides(dx, dy, rot int) bool {
	if s.current == "" {
		return false
	}
	shape := ShapeAt(s.current, rot)
	nx := s.x + dx
	ny := s.y + dy

	for r, row := range shape {
		for c, cell := range row {
			if cell == 0 {
				continue
			}
			bx := nx + c
			by := ny + r
			if bx < 0 || bx >= BoardWidth || by >= BoardHeight {
				return true
			}
			if by >= 0 && s.board[by][bx] != 0 {
				return true
			}
		}
	}
	return false
}

// Move shifts the piece one cell. A down move that collides locks the piece
// instead. Returns whether any state changed.
func (s *Simulation) Move(dir Direction) bool {
	if s.gameOver || s.current == "" {
		return false
	}

	switch dir {
	case Left:
		if !s.collides(-1, 0, s.rot) {
			s.x--
			return true
		}
	case Right:
		if !s.collides(1, 0, s.rot) {
			s.x++
			return true
		}
	case Down:
		if !s.collides(0, 1, s.rot) {
			s.y++
			return true
		}
		s.lock()
		return true
	}
	return false
}

// Rotate tries the candidate rotation with each wall-kick offset in order.
func (s *Simulation) Rotate(clockwise bool) bool {
	if s.gameOver || s.current == "" {
		return false
	}

	delta := 1
	if !clockwise {
		delta = -1
	}
	newRot := ((s.rot+delta)%4 + 4) % 4

	for _, kick := range kickOffsets {
		if !s.collides(kick[0], kick[1], newRot) {
			s.x += kick[0]
			s.y += kick[1]
			s.rot = newRot
			return true
		}
	}
	return false
}

// HardDrop sends the piece straight down and locks it.
func (s *Simulation) HardDrop() bool {
	if s.gameOver || s.current == "" {
		return false
	}
	for !s.collides(0, 1, s.rot) {
		s.y++
	}
	s.lock()
	return true
}

// Hold stores or swaps the current piece. At most one hold per piece
// lifetime; the flag resets on spawn.
func (s *Simulation) Hold() bool {
	if s.gameOver || s.current == "" || !s.canHold {
		return false
	}

	if s.hold != "" {
		s.hold, s.current = s.current, s.hold
		s.x, s.y, s.rot = SpawnX, 0, 0
	} else {
		s.hold = s.current
		s.Spawn()
	}
	s.canHold = false
	return true
}

// lock writes the piece into the board and either starts the clear
// animation or spawns the next piece immediately.
func (s *Simulation) lock() {
	shape := ShapeAt(s.current, s.rot)
	color := ColorIndex(s.current)

	for r, row := range shape {
		for c, cell := range row {
			if cell == 0 {
				continue
			}
			by := s.y + r
			bx := s.x + c
			if by >= 0 && by < BoardHeight {
				s.board[by][bx] = color
			}
		}
	}

	s.markClears()
	if len(s.clearing) > 0 {
		// The filled rows stay visible during the animation; the active
		// piece disappears so the client does not offer control.
		s.current = ""
	} else {
		s.Spawn()
	}
}

// markClears records full rows for delayed removal.
func (s *Simulation) markClears() {
	if len(s.clearing) > 0 {
		return
	}
	var full []int
	for y, row := range s.board {
		complete := true
		for _, cell := range row {
			if cell == 0 {
				complete = false
				break
			}
		}
		if complete {
			full = append(full, y)
		}
	}
	if len(full) == 0 {
		return
	}
	s.clearing = full
	s.clearStart = s.now()
}

// FinalizeClear removes pending rows once the animation delay has elapsed.
// Idempotent: repeated calls without a new lock in between are no-ops.
func (s *Simulation) FinalizeClear() {
	if len(s.clearing) == 0 {
		return
	}
	if s.now().Sub(s.clearStart) < ClearDelay {
		return
	}

	pending := make(map[int]bool, len(s.clearing))
	for _, y := range s.clearing {
		pending[y] = true
	}

	remaining := make([][]int, 0, BoardHeight)
	for y, row := range s.board {
		if !pending[y] {
			remaining = append(remaining, row)
		}
	}
	removed := BoardHeight - len(remaining)
	for i := 0; i < removed; i++ {
		remaining = append([][]int{make([]int, BoardWidth)}, remaining...)
	}
	s.board = remaining

	s.lines += removed
	s.level = s.lines/10 + 1
	s.dropInterval = baseDropInterval - time.Duration(s.level-1)*dropStep
	if s.dropInterval < minDropInterval {
		s.dropInterval = minDropInterval
	}

	s.clearing = nil
	s.clearStart = time.Time{}
}

// Update advances the simulation one tick: finalizes a due clear, respawns
// after a finished clear, and applies gravity. Returns whether a visible
// change occurred.
func (s *Simulation) Update() bool {
	if s.gameOver {
		return false
	}

	s.FinalizeClear()
	if !s.gameOver && s.current == "" && len(s.clearing) == 0 {
		s.Spawn()
	}

	now := s.now()
	if now.Sub(s.lastDrop) >= s.dropInterval {
		s.Move(Down)
		s.lastDrop = now
		return true
	}
	return false
}

// --- Read accessors used for snapshots and results ---

// UserID returns the owning player's id.
func (s *Simulation) UserID() string { return s.userID }

// Board returns a copy of the 20x10 cell grid.
func (s *Simulation) Board() [][]int {
	out := make([][]int, len(s.board))
	for y, row := range s.board {
		out[y] = make([]int, len(row))
		copy(out[y], row)
	}
	return out
}

// Active reports the falling piece, or ok=false when none is present.
func (s *Simulation) Active() (kind PieceKind, x, y, rot int, ok bool) {
	if s.current == "" {
		return "", 0, 0, 0, false
	}
	return s.current, s.x, s.y, s.rot, true
}

// HoldPiece reports the stored kind, or ok=false when the slot is empty.
func (s *Simulation) HoldPiece() (PieceKind, bool) {
	if s.hold == "" {
		return "", false
	}
	return s.hold, true
}

// NextPreview returns the first previewCount queued kinds.
func (s *Simulation) NextPreview() []PieceKind {
	n := previewCount
	if n > len(s.next) {
		n = len(s.next)
	}
	out := make([]PieceKind, n)
	copy(out, s.next[:n])
	return out
}

// Lines returns the cleared-line count.
func (s *Simulation) Lines() int { return s.lines }

// Level returns the current level, derived from lines.
func (s *Simulation) Level() int { return s.level }

// GameOver reports the terminal state.
func (s *Simulation) GameOver() bool { return s.gameOver }

// DropInterval returns the current gravity interval.
func (s *Simulation) DropInterval() time.Duration { return s.dropInterval }

// Clearing returns the rows pending removal, nil when no clear is pending.
func (s *Simulation) Clearing() []int {
	if len(s.clearing) == 0 {
		return nil
	}
	out := make([]int, len(s.clearing))
	copy(out, s.clearing)
	return out
}

// ClearAnim reports whether a clear animation is pending.
func (s *Simulation) ClearAnim() bool { return len(s.clearing) > 0 }

// FilledCells counts nonzero board cells, used for tie-breaking results.
func (s *Simulation) FilledCells() int {
	count := 0
	for _, row := range s.board {
		for _, cell := range row {
			if cell != 0 {
				count++
			}
		}
	}
	return count
}

// BoardRLE returns a run-length encoding of the flattened board, kept in
// snapshots for bandwidth-sensitive clients.
func (s *Simulation) BoardRLE() string {
	flat := make([]int, 0, BoardHeight*BoardWidth)
	for _, row := range s.board {
		flat = append(flat, row...)
	}

	var sb strings.Builder
	for i := 0; i < len(flat); {
		run := 1
		for i+run < len(flat) && flat[i+run] == flat[i] {
			run++
		}
		if run > 1 {
			sb.WriteString(strconv.Itoa(run))
		}
		sb.WriteString(strconv.Itoa(flat[i]))
		i += run
	}
	return sb.String()
}
