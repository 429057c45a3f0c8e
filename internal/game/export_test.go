package game

// SetCell pokes a board cell directly so tests can build positions that are
// awkward to reach through play.
func (s *Simulation) SetCell(x, y, v int) {
	s.board[y][x] = v
}
