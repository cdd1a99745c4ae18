// Package game holds the client-side session state machines for live quiz
// play: the player Session, the HostSession, and the Countdown timer they
// share. The machines consume normalized protocol events and local user
// actions; they never touch the wire format directly.
package game

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quizizz-client/internal/domain"
	"quizizz-client/internal/leaderboard"
	"quizizz-client/internal/protocol"
)

// Emitter sends an outbound event to the session server. The websocket client
// implements it; tests substitute a recorder.
type Emitter interface {
	Emit(eventType string, payload any) error
}

// IdentityStore persists a session identity so an interrupted attempt can be
// resumed with rejoin_room from a fresh process.
type IdentityStore interface {
	Save(ctx context.Context, identity domain.SessionIdentity) error
	Load(ctx context.Context) (domain.SessionIdentity, error)
	Clear(ctx context.Context) error
}

// Snapshot is the read model published to whatever renders the game. Each
// broadcast fully replaces the previous snapshot.
type Snapshot struct {
	Phase          domain.Phase
	Identity       domain.SessionIdentity
	Joined         bool
	Started        bool
	QuizTitle      string
	TotalQuestions int
	Question       *domain.Question
	Selection      int // -1 when unset
	Outcome        *domain.AnswerOutcome
	Leaderboard    domain.LeaderboardSnapshot
	Winner         string
	Score          int
	Rank           int
	TimeLeft       int
	TimeUp         bool
	Reconnecting   bool
	Notice         string
}

// Config tunes the session's scheduled transitions.
type Config struct {
	// FeedbackDelay is how long feedback stays on screen before the
	// leaderboard view takes over.
	FeedbackDelay time.Duration
	// LeaderboardDismiss is how long the leaderboard stays up when no new
	// question arrives.
	LeaderboardDismiss time.Duration
	Clock              clockwork.Clock
	Logger             zerolog.Logger
}

const (
	defaultFeedbackDelay      = 2 * time.Second
	defaultLeaderboardDismiss = 5 * time.Second
)

// Session is the player-side game state machine. It is the sole mutator of
// session state; every event handler runs to completion under the lock, so
// transitions are atomic with respect to each other.
type Session struct {
	clock         clockwork.Clock
	log           zerolog.Logger
	emit          Emitter
	feedbackDelay time.Duration
	dismissDelay  time.Duration

	mu             sync.Mutex
	phase          domain.Phase
	identity       domain.SessionIdentity
	joined         bool
	started        bool
	quizTitle      string
	totalQuestions int
	question       *domain.Question
	selection      int
	answered       bool
	outcome        *domain.AnswerOutcome
	board          domain.LeaderboardSnapshot
	winner         string
	score          int
	rank           int
	timeLeft       int
	timeUp         bool
	startedAt      time.Time
	connected      bool
	resyncing      bool
	notice         string

	countdown     *Countdown
	pendingGen    uint64
	pendingCancel chan struct{}
	subs          map[chan Snapshot]struct{}
	closed        bool
}

// NewSession builds a player session in the lobby phase.
func NewSession(emit Emitter, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FeedbackDelay <= 0 {
		cfg.FeedbackDelay = defaultFeedbackDelay
	}
	if cfg.LeaderboardDismiss <= 0 {
		cfg.LeaderboardDismiss = defaultLeaderboardDismiss
	}
	s := &Session{
		clock:         cfg.Clock,
		log:           cfg.Logger,
		emit:          emit,
		feedbackDelay: cfg.FeedbackDelay,
		dismissDelay:  cfg.LeaderboardDismiss,
		phase:         domain.PhaseLobby,
		selection:     -1,
		connected:     true,
		subs:          make(map[chan Snapshot]struct{}),
	}
	s.countdown = NewCountdown(cfg.Clock, s.onTick, s.onExpire)
	return s
}

// Join validates the identity, stores it for the attempt, and emits the
// one-time join_room handshake.
func (s *Session) Join(identity domain.SessionIdentity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.identity = identity
	err := s.emit.Emit(protocol.EventJoinRoom, protocol.JoinRoom{
		RoomCode: identity.RoomCode,
		Nickname: identity.Nickname,
	})
	s.broadcastLocked()
	return err
}

// Resume restores a persisted identity mid-game and announces presence with
// rejoin_room instead of re-running the join handshake.
func (s *Session) Resume(identity domain.SessionIdentity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.identity = identity
	s.joined = true
	s.resyncing = true
	err := s.emit.Emit(protocol.EventRejoinRoom, protocol.JoinRoom{
		RoomCode: identity.RoomCode,
		Nickname: identity.Nickname,
	})
	s.broadcastLocked()
	return err
}

// SelectAnswer records the local answer choice. It enforces the submission
// gate: at most one outbound submit_answer per question, stamped with the
// wall-clock delta from the question's start instant.
func (s *Session) SelectAnswer(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.phase != domain.PhasePlaying || s.question == nil:
		return domain.ErrNoActiveQuestion
	case !s.connected || s.resyncing:
		return domain.ErrResynchronizing
	case s.answered:
		return domain.ErrAlreadyAnswered
	case s.timeUp:
		return domain.ErrTimeExpired
	case idx < 0 || idx >= len(s.question.Options):
		return domain.ErrInvalidOption
	}

	now := s.clock.Now()
	s.answered = true
	s.selection = idx
	s.countdown.Pause()

	err := s.emit.Emit(protocol.EventSubmitAnswer, protocol.SubmitAnswer{
		RoomCode:        s.identity.RoomCode,
		AnswerIdx:       idx,
		TimeElapsed:     now.Sub(s.startedAt).Seconds(),
		ClientTimestamp: now.UnixMilli(),
	})
	s.broadcastLocked()
	return err
}

// HandleEvent applies one inbound server event. Events that arrive in an
// unexpected phase are dropped: a stale message costs far less than a crashed
// session.
func (s *Session) HandleEvent(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch e := ev.(type) {
	case *protocol.QuestionStart:
		s.handleQuestionStartLocked(e)
	case *protocol.AnswerResult:
		s.handleAnswerResultLocked(e)
	case *protocol.QuestionEnd:
		s.handleQuestionEndLocked(e)
	case *protocol.UpdateLeaderboard:
		s.handleLeaderboardLocked(e)
	case *protocol.FinalResults:
		s.handleFinalResultsLocked(e)
	case *protocol.PlayerJoinedSuccess:
		s.joined = true
		if e.QuizTitle != "" {
			s.quizTitle = e.QuizTitle
		}
		if e.QuestionCount > 0 {
			s.totalQuestions = e.QuestionCount
		}
		s.broadcastLocked()
	case protocol.GameStarted:
		s.started = true
		s.broadcastLocked()
	case *protocol.ErrorMessage:
		s.handleErrorLocked(e)
	default:
		s.log.Debug().Str("event", ev.EventName()).Msg("ignoring event without player semantics")
	}
}

// handleQuestionStartLocked fully supersedes the previous question, its
// selection and outcome, and any scheduled phase transition. The newest
// question_start always preempts a pending delay.
func (s *Session) handleQuestionStartLocked(e *protocol.QuestionStart) {
	if s.phase == domain.PhaseResult {
		s.log.Debug().Int("qIndex", e.QIndex).Msg("dropping question_start after final results")
		return
	}
	s.cancelPendingLocked()

	q := e.Question()
	s.question = &q
	s.selection = -1
	s.answered = false
	s.outcome = nil
	s.timeUp = false
	s.timeLeft = q.Duration
	s.startedAt = s.clock.Now()
	s.resyncing = false
	s.notice = ""
	s.phase = domain.PhasePlaying
	s.countdown.Start(q.Duration)

	s.log.Info().Int("qIndex", q.Index).Int("duration", q.Duration).Msg("question started")
	s.broadcastLocked()
}

func (s *Session) handleAnswerResultLocked(e *protocol.AnswerResult) {
	if s.phase != domain.PhasePlaying || s.question == nil {
		s.log.Debug().Msg("dropping answer_result with no active question")
		return
	}
	s.outcome = &domain.AnswerOutcome{
		Correct:       e.IsCorrect,
		PointsAwarded: e.ScoreEarned,
		TotalScore:    e.CurrentTotal,
		CorrectOption: e.CorrectAnswerIdx,
	}
	s.score = e.CurrentTotal
	s.phase = domain.PhaseFeedback
	s.resyncing = false
	s.countdown.Stop()
	s.broadcastLocked()
}

// handleQuestionEndLocked is the timeout path: the server's authoritative
// deadline fired before any private result arrived. It always stops the
// countdown, even when answer_result won the race for the outcome content.
func (s *Session) handleQuestionEndLocked(e *protocol.QuestionEnd) {
	s.countdown.Stop()
	s.timeUp = true
	s.resyncing = false
	if s.phase == domain.PhasePlaying && s.question != nil {
		if s.outcome == nil {
			s.outcome = &domain.AnswerOutcome{
				Correct:       false,
				PointsAwarded: 0,
				TotalScore:    s.score,
				CorrectOption: e.CorrectAnswerIdx,
			}
		}
		s.phase = domain.PhaseFeedback
	}
	s.broadcastLocked()
}

// handleLeaderboardLocked stores the snapshot immediately; the visual
// transition to the leaderboard is delayed so the feedback can be read first.
func (s *Session) handleLeaderboardLocked(e *protocol.UpdateLeaderboard) {
	s.board = domain.LeaderboardSnapshot{Entries: leaderboard.Normalize(e.Leaderboard)}
	if r, ok := leaderboard.Rank(s.board.Entries, s.identity.Nickname); ok {
		s.rank = r
	}
	s.resyncing = false

	switch s.phase {
	case domain.PhaseFeedback:
		s.scheduleLocked(s.feedbackDelay, s.showLeaderboardLocked)
	case domain.PhaseLeaderboard:
		// Fresh data while the board is already up: restart the dismiss delay.
		s.scheduleLocked(s.dismissDelay, s.dismissLeaderboardLocked)
	}
	s.broadcastLocked()
}

func (s *Session) showLeaderboardLocked() {
	if s.phase != domain.PhaseFeedback {
		return
	}
	s.phase = domain.PhaseLeaderboard
	s.scheduleLocked(s.dismissDelay, s.dismissLeaderboardLocked)
	s.broadcastLocked()
}

func (s *Session) dismissLeaderboardLocked() {
	if s.phase != domain.PhaseLeaderboard {
		return
	}
	// No new question arrived; drop back to the feedback screen.
	s.phase = domain.PhaseFeedback
	s.broadcastLocked()
}

func (s *Session) handleFinalResultsLocked(e *protocol.FinalResults) {
	s.cancelPendingLocked()
	s.countdown.Stop()
	s.board = domain.LeaderboardSnapshot{Entries: leaderboard.Normalize(e.Entries())}
	if r, ok := leaderboard.Rank(s.board.Entries, s.identity.Nickname); ok {
		s.rank = r
	}
	s.winner = e.Winner
	s.resyncing = false
	s.phase = domain.PhaseResult
	s.log.Info().Str("winner", e.Winner).Msg("game over")
	s.broadcastLocked()
}

func (s *Session) handleErrorLocked(e *protocol.ErrorMessage) {
	if e.IsFatal() {
		s.log.Warn().Str("code", e.Code).Str("msg", e.Msg).Msg("fatal server error, leaving session")
		s.resetLocked()
		s.notice = e.Msg
		s.broadcastLocked()
		return
	}
	s.log.Warn().Str("msg", e.Msg).Msg("server error")
	s.notice = e.Msg
	s.broadcastLocked()
}

// ConnectionLost marks the transport as down; answer input is suppressed
// until resynchronized. Game state is preserved optimistically.
func (s *Session) ConnectionLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.connected = false
	s.broadcastLocked()
}

// ConnectionEstablished marks the transport as up. Mid-game it emits exactly
// one rejoin_room and waits for the next authoritative event to resynchronize;
// the server is not assumed to resend the active question.
func (s *Session) ConnectionEstablished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	wasDown := !s.connected
	s.connected = true
	if wasDown && s.identity.RoomCode != "" && s.phase != domain.PhaseLobby {
		s.resyncing = true
		if err := s.emit.Emit(protocol.EventRejoinRoom, protocol.JoinRoom{
			RoomCode: s.identity.RoomCode,
			Nickname: s.identity.Nickname,
		}); err != nil {
			s.log.Warn().Err(err).Msg("rejoin emit failed")
		}
	}
	s.broadcastLocked()
}

// Reset returns the machine to the pre-session lobby, clearing the identity.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.broadcastLocked()
}

func (s *Session) resetLocked() {
	s.cancelPendingLocked()
	s.countdown.Stop()
	s.phase = domain.PhaseLobby
	s.identity = domain.SessionIdentity{}
	s.joined = false
	s.started = false
	s.quizTitle = ""
	s.totalQuestions = 0
	s.question = nil
	s.selection = -1
	s.answered = false
	s.outcome = nil
	s.board = domain.LeaderboardSnapshot{}
	s.winner = ""
	s.score = 0
	s.rank = 0
	s.timeLeft = 0
	s.timeUp = false
	s.resyncing = false
	s.notice = ""
}

// Identity returns the current session identity.
func (s *Session) Identity() domain.SessionIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Subscribe returns a channel receiving state snapshots, starting with the
// current one. The caller must invoke cancel to avoid leaking the handler.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	// Sent under the lock so no broadcast can slip in ahead of the initial
	// snapshot; the buffer guarantees this never blocks.
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close tears the session down and unsubscribes every consumer.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelPendingLocked()
	s.countdown.Stop()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

// scheduleLocked registers the single pending delayed transition. Scheduling
// a new one, a new question, or final results cancels the previous callback;
// stale callbacks are never stacked.
func (s *Session) scheduleLocked(d time.Duration, fn func()) {
	s.cancelPendingLocked()
	s.pendingGen++
	gen := s.pendingGen
	cancel := make(chan struct{})
	s.pendingCancel = cancel
	timer := s.clock.NewTimer(d)

	go func() {
		defer timer.Stop()
		select {
		case <-cancel:
			return
		case <-timer.Chan():
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.pendingGen || s.closed {
			return
		}
		s.pendingCancel = nil
		fn()
	}()
}

func (s *Session) cancelPendingLocked() {
	s.pendingGen++
	if s.pendingCancel != nil {
		close(s.pendingCancel)
		s.pendingCancel = nil
	}
}

func (s *Session) onTick(remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase != domain.PhasePlaying {
		return
	}
	s.timeLeft = remaining
	s.broadcastLocked()
}

// onExpire marks local time as up. It only forbids new selections; the phase
// changes when the server's question_end arrives.
func (s *Session) onExpire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase != domain.PhasePlaying {
		return
	}
	s.timeLeft = 0
	s.timeUp = true
	s.broadcastLocked()
}

func (s *Session) broadcastLocked() {
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:          s.phase,
		Identity:       s.identity,
		Joined:         s.joined,
		Started:        s.started,
		QuizTitle:      s.quizTitle,
		TotalQuestions: s.totalQuestions,
		Selection:      s.selection,
		Leaderboard:    s.board,
		Winner:         s.winner,
		Score:          s.score,
		Rank:           s.rank,
		TimeLeft:       s.timeLeft,
		TimeUp:         s.timeUp,
		Reconnecting:   !s.connected || s.resyncing,
		Notice:         s.notice,
	}
	if s.question != nil {
		q := *s.question
		snap.Question = &q
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}
