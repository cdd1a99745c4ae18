package cli

import (
	"fmt"
	"strings"

	"quizizz-client/internal/domain"
	"quizizz-client/internal/game"
	"quizizz-client/internal/leaderboard"
)

var answerLabels = []string{"A", "B", "C", "D"}

// optionLabel tolerates servers that send more than four options.
func optionLabel(i int) string {
	if i >= 0 && i < len(answerLabels) {
		return answerLabels[i]
	}
	return fmt.Sprintf("#%d", i+1)
}

// renderPlayerView consumes session snapshots and prints phase changes until
// the game ends or the session closes. Returns true when the final ranking
// was reached.
func renderPlayerView(session *game.Session, topN int) bool {
	snaps, cancel := session.Subscribe()
	defer cancel()

	var last game.Snapshot
	seen := false
	for snap := range snaps {
		printPlayerSnapshot(snap, last, seen, topN)
		if snap.Phase == domain.PhaseResult {
			return true
		}
		last = snap
		seen = true
	}
	return false
}

func printPlayerSnapshot(snap, last game.Snapshot, seen bool, topN int) {
	if snap.Reconnecting && (!seen || !last.Reconnecting) {
		fmt.Println("… reconnecting, input disabled")
	}
	if snap.Notice != "" && snap.Notice != last.Notice {
		fmt.Printf("!! %s\n", snap.Notice)
	}

	phaseChanged := !seen || snap.Phase != last.Phase
	switch snap.Phase {
	case domain.PhaseLobby:
		if snap.Joined && (!seen || !last.Joined) {
			if snap.QuizTitle != "" {
				fmt.Printf("Joined %q (%d questions). Waiting for the host…\n", snap.QuizTitle, snap.TotalQuestions)
			} else {
				fmt.Println("Joined the room. Waiting for the host…")
			}
		}
	case domain.PhasePlaying:
		newQuestion := phaseChanged || questionIndex(snap) != questionIndex(last)
		if newQuestion && snap.Question != nil {
			q := snap.Question
			fmt.Printf("\nQ%d (%d pts): %s\n", q.Index+1, q.Points, q.Text)
			for i, opt := range q.Options {
				fmt.Printf("  %s) %s\n", optionLabel(i), opt)
			}
		}
		if snap.TimeLeft != last.TimeLeft || newQuestion {
			fmt.Printf("  %2ds left\r", snap.TimeLeft)
		}
		if snap.TimeUp && !last.TimeUp {
			fmt.Println("\n  time's up!")
		}
		if snap.Selection >= 0 && last.Selection < 0 {
			fmt.Printf("\n  locked in %s\n", optionLabel(snap.Selection))
		}
	case domain.PhaseFeedback:
		if phaseChanged && snap.Outcome != nil {
			o := snap.Outcome
			if o.Correct {
				fmt.Printf("\n✔ correct! +%d points (total %d)\n", o.PointsAwarded, o.TotalScore)
			} else {
				fmt.Printf("\n✘ wrong. The answer was %s. Total %d\n", optionLabel(o.CorrectOption), o.TotalScore)
			}
		}
	case domain.PhaseLeaderboard:
		if phaseChanged {
			fmt.Println("\n-- leaderboard --")
			printBoard(snap.Leaderboard, snap.Identity.Nickname, topN)
		}
	case domain.PhaseResult:
		fmt.Println("\n== final results ==")
		printBoard(snap.Leaderboard, snap.Identity.Nickname, topN)
		if snap.Winner != "" {
			fmt.Printf("winner: %s\n", snap.Winner)
		}
		fmt.Printf("you finished rank %d with %d points\n", snap.Rank, snap.Score)
	}
}

func printBoard(board domain.LeaderboardSnapshot, selfName string, topN int) {
	view := leaderboard.Window(board, selfName, topN)
	for _, e := range view.Top {
		marker := " "
		if e.Name == selfName {
			marker = "*"
		}
		fmt.Printf(" %s %2d. %-20s %d pts\n", marker, e.Rank, e.Name, e.Score)
	}
	if view.Divider && view.Self != nil {
		fmt.Println("   …")
		fmt.Printf(" * %2d. %-20s %d pts\n", view.Self.Rank, view.Self.Name, view.Self.Score)
	}
}

// renderHostView consumes host snapshots until the game ends.
func renderHostView(host *game.HostSession, topN int) {
	snaps, cancel := host.Subscribe()
	defer cancel()

	var last game.HostSnapshot
	seen := false
	for snap := range snaps {
		printHostSnapshot(snap, last, seen, topN)
		if snap.Phase == domain.HostPhaseEnded {
			return
		}
		last = snap
		seen = true
	}
}

func printHostSnapshot(snap, last game.HostSnapshot, seen bool, topN int) {
	if snap.Reconnecting && (!seen || !last.Reconnecting) {
		fmt.Println("… reconnecting")
	}
	if snap.Notice != "" && snap.Notice != last.Notice {
		fmt.Printf("!! %s\n", snap.Notice)
	}

	switch snap.Phase {
	case domain.HostPhaseLobby:
		if snap.PlayerCount != last.PlayerCount {
			fmt.Printf("lobby: %d player(s): %s\n", snap.PlayerCount, strings.Join(snap.Players, ", "))
		}
	case domain.HostPhasePlaying:
		if snap.Question != nil && questionIndexHost(snap) != questionIndexHost(last) {
			fmt.Printf("\nshowing Q%d: %s\n", snap.Question.Index+1, snap.Question.Text)
		}
		if snap.Stats != last.Stats {
			fmt.Printf("  answers  A:%d  B:%d  C:%d  D:%d\n", snap.Stats.A, snap.Stats.B, snap.Stats.C, snap.Stats.D)
		}
	case domain.HostPhaseEnded:
		fmt.Println("\n== game over ==")
		printBoard(snap.Leaderboard, "", topN)
		if snap.Winner != "" {
			fmt.Printf("winner: %s\n", snap.Winner)
		}
	}
}

func questionIndex(snap game.Snapshot) int {
	if snap.Question == nil {
		return -1
	}
	return snap.Question.Index
}

func questionIndexHost(snap game.HostSnapshot) int {
	if snap.Question == nil {
		return -1
	}
	return snap.Question.Index
}
