package match

import (
	"sort"

	"github.com/hersh/blockbattle/internal/protocol"
)

// computeResults captures final standings from the live simulations and
// ranks them. Caller holds the coordinator mutex.
func computeResults(entries []*playerEntry) ([]protocol.PlayerResult, string) {
	results := make([]protocol.PlayerResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, protocol.PlayerResult{
			UserID:      e.userID,
			Lines:       e.sim.Lines(),
			Level:       e.sim.Level(),
			GameOver:    e.sim.GameOver(),
			FilledCells: e.sim.FilledCells(),
		})
	}
	return rankResults(results)
}

// rankResults decides the winner and marks it in place. A sole survivor
// wins outright; otherwise players sort by lines cleared descending, then
// by filled cells ascending, and the front of the order wins. Returns ""
// for the winner when there were no players.
func rankResults(results []protocol.PlayerResult) ([]protocol.PlayerResult, string) {
	if len(results) == 0 {
		return results, ""
	}
	alive := 0
	aliveIdx := -1
	for i, r := range results {
		if !r.GameOver {
			alive++
			aliveIdx = i
		}
	}

	var winner string
	if alive == 1 {
		winner = results[aliveIdx].UserID
	} else {
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].Lines != results[j].Lines {
				return results[i].Lines > results[j].Lines
			}
			return results[i].FilledCells < results[j].FilledCells
		})
		winner = results[0].UserID
	}
	for i := range results {
		results[i].Winner = results[i].UserID == winner
	}
	return results, winner
}
