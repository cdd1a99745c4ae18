// Package leaderboard normalizes server scoreboard snapshots and produces the
// windowed top-N view shown between questions.
package leaderboard

import "quizizz-client/internal/domain"

// Normalize assigns the authoritative rank to every entry: a positive
// server-supplied rank wins, otherwise the 1-based array position is used.
// The input slice is not modified.
func Normalize(entries []domain.LeaderboardEntry) []domain.LeaderboardEntry {
	out := make([]domain.LeaderboardEntry, len(entries))
	copy(out, entries)
	for i := range out {
		if out[i].Rank <= 0 {
			out[i].Rank = i + 1
		}
	}
	return out
}

// Rank locates a participant by display name in the full list.
func Rank(entries []domain.LeaderboardEntry, name string) (int, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e.Rank, true
		}
	}
	return 0, false
}

// View is the windowed leaderboard for display: the top rows, plus a
// synthesized own-rank row behind a divider when the participant placed
// outside the window.
type View struct {
	Top     []domain.LeaderboardEntry
	Divider bool
	Self    *domain.LeaderboardEntry
}

// Window builds the display view from a normalized snapshot. selfName may be
// empty (host view), in which case only the top rows are returned.
func Window(snapshot domain.LeaderboardSnapshot, selfName string, topN int) View {
	entries := snapshot.Entries
	if topN <= 0 || topN > len(entries) {
		topN = len(entries)
	}
	view := View{Top: entries[:topN]}
	if selfName == "" {
		return view
	}
	for i, e := range entries {
		if e.Name != selfName {
			continue
		}
		if i >= topN {
			self := e
			view.Divider = true
			view.Self = &self
		}
		break
	}
	return view
}
