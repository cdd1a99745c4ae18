// Package protocol defines the websocket message contract between the quiz
// client and the session server: event names, payload shapes, and the
// envelope codec. Event-name synonyms used by older servers are normalized
// here so the state machine never branches on wire-format variants.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"quizizz-client/internal/domain"
)

// Inbound event names (server -> client).
const (
	EventQuestionStart       = "question_start"
	EventAnswerResult        = "answer_result"
	EventQuestionEnd         = "question_end"
	EventUpdateLeaderboard   = "update_leaderboard"
	EventFinalResults        = "final_results"
	EventGameStarted         = "game_started"
	EventPlayerJoinedSuccess = "player_joined_success"
	EventPlayerJoined        = "player_joined"
	EventLiveStats           = "live_stats"
	EventErrorMessage        = "error_message"
)

// Outbound event names (client -> server).
const (
	EventJoinRoom     = "join_room"
	EventRejoinRoom   = "rejoin_room"
	EventSubmitAnswer = "submit_answer"
	EventStartGame    = "start_game"
	EventNextQuestion = "next_question"
	EventGameOver     = "game_over"
)

// synonyms maps wire-format variants onto canonical event names.
var synonyms = map[string]string{
	"game_over":  EventFinalResults,
	"game_start": EventGameStarted,
}

// ErrUnknownEvent is returned by Decode for event types outside the contract.
var ErrUnknownEvent = errors.New("unknown event type")

// Envelope is the frame shape shared by both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is a decoded inbound message. Concrete types are the payload structs
// below; the state machine switches on them.
type Event interface {
	EventName() string
}

// QuestionStart carries a new active question.
type QuestionStart struct {
	QIndex   int      `json:"qIndex"`
	QText    string   `json:"qText"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Options  []string `json:"options"`
	Duration int      `json:"duration"`
	Points   int      `json:"points"`
}

func (QuestionStart) EventName() string { return EventQuestionStart }

// Question converts the payload into the domain representation.
func (p QuestionStart) Question() domain.Question {
	return domain.Question{
		Index:    p.QIndex,
		Text:     p.QText,
		ImageURL: p.ImageURL,
		Options:  p.Options,
		Duration: p.Duration,
		Points:   p.Points,
	}
}

// AnswerResult is the private per-answer verdict.
type AnswerResult struct {
	IsCorrect        bool `json:"isCorrect"`
	ScoreEarned      int  `json:"scoreEarned"`
	CurrentTotal     int  `json:"currentTotal"`
	CorrectAnswerIdx int  `json:"correctAnswerIdx"`
}

func (AnswerResult) EventName() string { return EventAnswerResult }

// QuestionEnd is the server-authoritative end of the current question.
type QuestionEnd struct {
	CorrectAnswerIdx int `json:"correctAnswerIdx"`
}

func (QuestionEnd) EventName() string { return EventQuestionEnd }

// UpdateLeaderboard replaces the shared scoreboard.
type UpdateLeaderboard struct {
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

func (UpdateLeaderboard) EventName() string { return EventUpdateLeaderboard }

// FinalResults ends the game. Servers send either a winner/top3 pair or a
// full leaderboard; both spellings ("final_results", "game_over") land here.
type FinalResults struct {
	Winner      string                    `json:"winner,omitempty"`
	Top3        []domain.LeaderboardEntry `json:"top3,omitempty"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard,omitempty"`
}

func (FinalResults) EventName() string { return EventFinalResults }

// Entries returns whichever final ranking the server provided.
func (p FinalResults) Entries() []domain.LeaderboardEntry {
	if len(p.Top3) > 0 {
		return p.Top3
	}
	return p.Leaderboard
}

// GameStarted marks the lobby as started; the first question follows.
type GameStarted struct{}

func (GameStarted) EventName() string { return EventGameStarted }

// PlayerJoinedSuccess confirms a join_room request.
type PlayerJoinedSuccess struct {
	Status        string `json:"status"`
	QuizTitle     string `json:"quizTitle,omitempty"`
	QuestionCount int    `json:"questionCount,omitempty"`
}

func (PlayerJoinedSuccess) EventName() string { return EventPlayerJoinedSuccess }

// PlayerJoined notifies the host of a new participant.
type PlayerJoined struct {
	Name         string   `json:"name"`
	TotalPlayers int      `json:"totalPlayers"`
	Players      []string `json:"players,omitempty"`
}

func (PlayerJoined) EventName() string { return EventPlayerJoined }

// LiveStats carries per-option answer counts for the host dashboard.
type LiveStats struct {
	domain.AnswerStats
}

func (LiveStats) EventName() string { return EventLiveStats }

// ErrorMessage is a server-reported business error.
type ErrorMessage struct {
	Code string `json:"code,omitempty"`
	Msg  string `json:"msg"`
}

func (ErrorMessage) EventName() string { return EventErrorMessage }

// fatalCodes is the subset of business errors that terminate the session.
var fatalCodes = map[string]struct{}{
	"ROOM_NOT_FOUND":    {},
	"HOST_DISCONNECTED": {},
	"INVALID_NICKNAME":  {},
}

// IsFatal reports whether a server error forces the participant back to a
// pre-session screen. Older servers omit the code field, so the message text
// is matched as a fallback.
func (p ErrorMessage) IsFatal() bool {
	if _, ok := fatalCodes[p.Code]; ok {
		return true
	}
	msg := strings.ToLower(p.Msg)
	for _, s := range []string{"room not found", "host disconnected", "invalid nickname"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// JoinRoom is the outbound pre-session handshake; RejoinRoom reuses it.
type JoinRoom struct {
	RoomCode string `json:"roomCode"`
	Nickname string `json:"nickname"`
}

// SubmitAnswer is the single per-question answer submission.
type SubmitAnswer struct {
	RoomCode        string  `json:"roomCode"`
	AnswerIdx       int     `json:"answerIdx"`
	TimeElapsed     float64 `json:"timeElapsed"`
	ClientTimestamp int64   `json:"clientTimestamp"`
}

// HostCommand addresses start_game, next_question, and game_over to a room.
type HostCommand struct {
	RoomCode string `json:"roomCode"`
}

// Decode parses an envelope into a typed inbound event. Unknown event types
// return ErrUnknownEvent so callers can drop them without failing the stream.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	name := env.Type
	if canonical, ok := synonyms[name]; ok {
		name = canonical
	}

	unmarshal := func(v Event) (Event, error) {
		if len(env.Payload) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}
		return v, nil
	}

	switch name {
	case EventQuestionStart:
		return unmarshal(&QuestionStart{})
	case EventAnswerResult:
		return unmarshal(&AnswerResult{})
	case EventQuestionEnd:
		return unmarshal(&QuestionEnd{})
	case EventUpdateLeaderboard:
		return unmarshal(&UpdateLeaderboard{})
	case EventFinalResults:
		return unmarshal(&FinalResults{})
	case EventGameStarted:
		return GameStarted{}, nil
	case EventPlayerJoinedSuccess:
		return unmarshal(&PlayerJoinedSuccess{})
	case EventPlayerJoined:
		return unmarshal(&PlayerJoined{})
	case EventLiveStats:
		return unmarshal(&LiveStats{})
	case EventErrorMessage:
		return unmarshal(&ErrorMessage{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// Encode wraps an outbound payload in an envelope.
func Encode(eventType string, payload any) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", eventType, err)
	}
	return data, nil
}
