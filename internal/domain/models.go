package domain

import "unicode/utf8"

// Phase is the discrete stage of a player's game session.
type Phase string

const (
	PhaseLobby       Phase = "LOBBY"
	PhasePlaying     Phase = "PLAYING"
	PhaseFeedback    Phase = "FEEDBACK"
	PhaseLeaderboard Phase = "LEADERBOARD"
	PhaseResult      Phase = "RESULT"
)

// HostPhase is the coarser stage tracked on the host side.
type HostPhase string

const (
	HostPhaseLobby   HostPhase = "LOBBY"
	HostPhasePlaying HostPhase = "PLAYING"
	HostPhaseEnded   HostPhase = "ENDED"
)

// SessionIdentity is one participant's membership in one room, held for the
// lifetime of a single game attempt.
type SessionIdentity struct {
	RoomCode  string `json:"roomCode"`
	Nickname  string `json:"nickname"`
	AttemptID string `json:"attemptId,omitempty"`
}

// Validate checks the join form rules: a non-empty room code and a nickname
// of 2-20 characters.
func (id SessionIdentity) Validate() error {
	if id.RoomCode == "" {
		return ErrRoomCodeRequired
	}
	if n := utf8.RuneCountInString(id.Nickname); n < 2 || n > 20 {
		return ErrNicknameLength
	}
	return nil
}

// Question is the active prompt; replaced wholesale on each question start.
type Question struct {
	Index    int
	Text     string
	ImageURL string
	Options  []string
	Duration int // seconds, server-set
	Points   int
}

// AnswerOutcome is the server verdict for one submitted answer, or the
// synthesized miss produced on the timeout path.
type AnswerOutcome struct {
	Correct       bool
	PointsAwarded int
	TotalScore    int
	CorrectOption int
}

// LeaderboardEntry is one ranked row of the shared scoreboard.
type LeaderboardEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Rank  int    `json:"rank,omitempty"`
}

// LeaderboardSnapshot is the ranked view of all participants at a point in
// time; each update fully replaces the prior snapshot.
type LeaderboardSnapshot struct {
	Entries []LeaderboardEntry
}

// AnswerStats counts live answers per option on the host dashboard.
type AnswerStats struct {
	A int `json:"a"`
	B int `json:"b"`
	C int `json:"c"`
	D int `json:"d"`
}
