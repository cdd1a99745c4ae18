package game

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"quizizz-client/internal/domain"
	"quizizz-client/internal/protocol"
)

type emitted struct {
	Type    string
	Payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(eventType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{Type: eventType, Payload: payload})
	return nil
}

func (r *recordingEmitter) byType(eventType string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestSession(t *testing.T) (*Session, *recordingEmitter, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	emitter := &recordingEmitter{}
	session := NewSession(emitter, Config{Clock: clock})
	t.Cleanup(session.Close)
	return session, emitter, clock
}

func joinAndStart(t *testing.T, s *Session, duration int) {
	t.Helper()
	if err := s.Join(domain.SessionIdentity{RoomCode: "ABC123", Nickname: "Alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	s.HandleEvent(&protocol.QuestionStart{
		QIndex:   0,
		QText:    "What is 2 + 2?",
		Options:  []string{"3", "4", "5", "22"},
		Duration: duration,
		Points:   100,
	})
}

func currentSnapshot(s *Session) Snapshot {
	ch, cancel := s.Subscribe()
	defer cancel()
	return <-ch
}

func waitFor(t *testing.T, snaps <-chan Snapshot, what string, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				t.Fatalf("snapshot channel closed waiting for %s", what)
			}
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestJoinValidatesIdentity(t *testing.T) {
	session, emitter, _ := newTestSession(t)

	err := session.Join(domain.SessionIdentity{RoomCode: "ABC123", Nickname: "A"})
	if !errors.Is(err, domain.ErrNicknameLength) {
		t.Fatalf("expected ErrNicknameLength, got %v", err)
	}
	err = session.Join(domain.SessionIdentity{Nickname: "Alice"})
	if !errors.Is(err, domain.ErrRoomCodeRequired) {
		t.Fatalf("expected ErrRoomCodeRequired, got %v", err)
	}
	if len(emitter.byType(protocol.EventJoinRoom)) != 0 {
		t.Fatalf("expected no join_room for invalid identities")
	}

	if err := session.Join(domain.SessionIdentity{RoomCode: "ABC123", Nickname: "Alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	joins := emitter.byType(protocol.EventJoinRoom)
	if len(joins) != 1 {
		t.Fatalf("expected one join_room, got %d", len(joins))
	}
	payload := joins[0].Payload.(protocol.JoinRoom)
	if payload.RoomCode != "ABC123" || payload.Nickname != "Alice" {
		t.Fatalf("unexpected join payload %+v", payload)
	}
}

func TestQuestionStartEntersPlaying(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	snap := currentSnapshot(session)
	if snap.Phase != domain.PhasePlaying {
		t.Fatalf("expected PLAYING, got %s", snap.Phase)
	}
	if snap.Question == nil || snap.Question.Duration != 20 {
		t.Fatalf("expected stored question, got %+v", snap.Question)
	}
	if snap.Selection != -1 || snap.Outcome != nil {
		t.Fatalf("expected cleared selection and outcome, got %+v", snap)
	}
	if snap.TimeLeft != 20 {
		t.Fatalf("expected countdown at 20, got %d", snap.TimeLeft)
	}
}

func TestQuestionStartIsIdempotent(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)
	first := currentSnapshot(session)

	session.HandleEvent(&protocol.QuestionStart{
		QIndex:   0,
		QText:    "What is 2 + 2?",
		Options:  []string{"3", "4", "5", "22"},
		Duration: 20,
		Points:   100,
	})
	second := currentSnapshot(session)

	if second.Phase != first.Phase || second.Selection != first.Selection ||
		second.TimeLeft != first.TimeLeft {
		t.Fatalf("re-receipt changed state: %+v vs %+v", first, second)
	}
	if second.Question == nil || second.Question.Index != first.Question.Index ||
		second.Question.Text != first.Question.Text {
		t.Fatalf("re-receipt changed the question: %+v vs %+v", first.Question, second.Question)
	}
}

func TestSelectAnswerSubmitsAtMostOnce(t *testing.T) {
	session, emitter, clock := newTestSession(t)
	joinAndStart(t, session, 20)

	clock.Advance(3 * time.Second)
	if err := session.SelectAnswer(1); err != nil {
		t.Fatalf("first selection: %v", err)
	}
	if err := session.SelectAnswer(2); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}

	submits := emitter.byType(protocol.EventSubmitAnswer)
	if len(submits) != 1 {
		t.Fatalf("expected exactly one submit_answer, got %d", len(submits))
	}
	payload := submits[0].Payload.(protocol.SubmitAnswer)
	if payload.AnswerIdx != 1 {
		t.Fatalf("expected first selected index 1, got %d", payload.AnswerIdx)
	}
	if payload.TimeElapsed != 3 {
		t.Fatalf("expected 3s elapsed, got %v", payload.TimeElapsed)
	}
	if payload.RoomCode != "ABC123" {
		t.Fatalf("expected room code on submission, got %q", payload.RoomCode)
	}
}

func TestSelectAnswerRejectedOutsidePlaying(t *testing.T) {
	session, _, _ := newTestSession(t)
	if err := session.SelectAnswer(0); !errors.Is(err, domain.ErrNoActiveQuestion) {
		t.Fatalf("expected ErrNoActiveQuestion, got %v", err)
	}

	joinAndStart(t, session, 20)
	if err := session.SelectAnswer(7); !errors.Is(err, domain.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
}

func TestAnswerResultEntersFeedback(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	session.HandleEvent(&protocol.AnswerResult{
		IsCorrect:        true,
		ScoreEarned:      100,
		CurrentTotal:     150,
		CorrectAnswerIdx: 1,
	})

	snap := currentSnapshot(session)
	if snap.Phase != domain.PhaseFeedback {
		t.Fatalf("expected FEEDBACK, got %s", snap.Phase)
	}
	if snap.Outcome == nil || !snap.Outcome.Correct || snap.Outcome.PointsAwarded != 100 {
		t.Fatalf("unexpected outcome %+v", snap.Outcome)
	}
	if snap.Score != 150 {
		t.Fatalf("expected cumulative score 150, got %d", snap.Score)
	}
}

func TestQuestionEndSynthesizesMiss(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	session.HandleEvent(&protocol.QuestionEnd{CorrectAnswerIdx: 2})

	snap := currentSnapshot(session)
	if snap.Phase != domain.PhaseFeedback {
		t.Fatalf("expected FEEDBACK on timeout path, got %s", snap.Phase)
	}
	o := snap.Outcome
	if o == nil || o.Correct || o.PointsAwarded != 0 || o.CorrectOption != 2 {
		t.Fatalf("expected synthesized miss, got %+v", o)
	}
	if o.TotalScore != 0 {
		t.Fatalf("expected cumulative score unchanged, got %d", o.TotalScore)
	}
}

func TestAnswerResultWinsRaceWithQuestionEnd(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	session.HandleEvent(&protocol.AnswerResult{IsCorrect: true, ScoreEarned: 80, CurrentTotal: 80, CorrectAnswerIdx: 1})
	session.HandleEvent(&protocol.QuestionEnd{CorrectAnswerIdx: 1})

	snap := currentSnapshot(session)
	if snap.Phase != domain.PhaseFeedback {
		t.Fatalf("expected FEEDBACK, got %s", snap.Phase)
	}
	if snap.Outcome == nil || !snap.Outcome.Correct || snap.Outcome.PointsAwarded != 80 {
		t.Fatalf("question_end overwrote the earlier verdict: %+v", snap.Outcome)
	}
}

func TestLeaderboardTransitionIsDelayed(t *testing.T) {
	session, _, clock := newTestSession(t)
	joinAndStart(t, session, 20)
	session.HandleEvent(&protocol.AnswerResult{IsCorrect: true, ScoreEarned: 100, CurrentTotal: 100, CorrectAnswerIdx: 1})

	session.HandleEvent(&protocol.UpdateLeaderboard{Leaderboard: []domain.LeaderboardEntry{
		{Name: "Alice", Score: 100},
		{Name: "Bob", Score: 50},
	}})

	snap := currentSnapshot(session)
	if snap.Phase != domain.PhaseFeedback {
		t.Fatalf("expected snapshot stored while still in FEEDBACK, got %s", snap.Phase)
	}
	if len(snap.Leaderboard.Entries) != 2 || snap.Rank != 1 {
		t.Fatalf("expected stored leaderboard with own rank 1, got %+v", snap)
	}

	snaps, cancel := session.Subscribe()
	defer cancel()
	clock.BlockUntil(1)
	clock.Advance(defaultFeedbackDelay)
	waitFor(t, snaps, "LEADERBOARD phase", func(s Snapshot) bool {
		return s.Phase == domain.PhaseLeaderboard
	})
}

func TestLeaderboardAutoDismissReturnsToFeedback(t *testing.T) {
	session, _, clock := newTestSession(t)
	joinAndStart(t, session, 20)
	session.HandleEvent(&protocol.AnswerResult{IsCorrect: true, ScoreEarned: 100, CurrentTotal: 100, CorrectAnswerIdx: 1})
	session.HandleEvent(&protocol.UpdateLeaderboard{Leaderboard: []domain.LeaderboardEntry{{Name: "Alice", Score: 100}}})

	snaps, cancel := session.Subscribe()
	defer cancel()

	clock.BlockUntil(1)
	clock.Advance(defaultFeedbackDelay)
	waitFor(t, snaps, "LEADERBOARD phase", func(s Snapshot) bool {
		return s.Phase == domain.PhaseLeaderboard
	})

	clock.BlockUntil(1)
	clock.Advance(defaultLeaderboardDismiss)
	waitFor(t, snaps, "auto-dismiss back to FEEDBACK", func(s Snapshot) bool {
		return s.Phase == domain.PhaseFeedback
	})
}

func TestQuestionStartPreemptsScheduledDismiss(t *testing.T) {
	session, _, clock := newTestSession(t)
	joinAndStart(t, session, 20)
	session.HandleEvent(&protocol.AnswerResult{IsCorrect: true, ScoreEarned: 100, CurrentTotal: 100, CorrectAnswerIdx: 1})
	session.HandleEvent(&protocol.UpdateLeaderboard{Leaderboard: []domain.LeaderboardEntry{{Name: "Alice", Score: 100}}})

	snaps, cancel := session.Subscribe()
	defer cancel()
	clock.BlockUntil(1)
	clock.Advance(defaultFeedbackDelay)
	waitFor(t, snaps, "LEADERBOARD phase", func(s Snapshot) bool {
		return s.Phase == domain.PhaseLeaderboard
	})
	cancel()

	// Host advanced early: the new question must win over the pending dismiss.
	session.HandleEvent(&protocol.QuestionStart{
		QIndex:   1,
		QText:    "Next question",
		Options:  []string{"w", "x", "y", "z"},
		Duration: 30,
		Points:   100,
	})
	clock.Advance(defaultLeaderboardDismiss)
	clock.BlockUntil(1)

	snap := currentSnapshot(session)
	if snap.Phase != domain.PhasePlaying {
		t.Fatalf("stale dismiss fired after preemption: phase %s", snap.Phase)
	}
	if snap.Question == nil || snap.Question.Index != 1 {
		t.Fatalf("expected question 1 active, got %+v", snap.Question)
	}
}

func TestLocalExpiryBlocksSelectionWithoutPhaseChange(t *testing.T) {
	session, emitter, clock := newTestSession(t)
	joinAndStart(t, session, 2)

	snaps, cancel := session.Subscribe()
	defer cancel()
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
	snap := waitFor(t, snaps, "local expiry", func(s Snapshot) bool { return s.TimeUp })

	if snap.Phase != domain.PhasePlaying {
		t.Fatalf("local timer must not change phase, got %s", snap.Phase)
	}
	if err := session.SelectAnswer(0); !errors.Is(err, domain.ErrTimeExpired) {
		t.Fatalf("expected ErrTimeExpired, got %v", err)
	}
	if len(emitter.byType(protocol.EventSubmitAnswer)) != 0 {
		t.Fatalf("expired question must not submit")
	}
}

func TestReconnectEmitsSingleRejoin(t *testing.T) {
	session, emitter, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	session.ConnectionLost()
	if err := session.SelectAnswer(0); !errors.Is(err, domain.ErrResynchronizing) {
		t.Fatalf("expected input suppressed while disconnected, got %v", err)
	}

	session.ConnectionEstablished()
	rejoins := emitter.byType(protocol.EventRejoinRoom)
	if len(rejoins) != 1 {
		t.Fatalf("expected exactly one rejoin_room, got %d", len(rejoins))
	}
	payload := rejoins[0].Payload.(protocol.JoinRoom)
	if payload.RoomCode != "ABC123" || payload.Nickname != "Alice" {
		t.Fatalf("unexpected rejoin payload %+v", payload)
	}

	// Still resynchronizing until the next authoritative event.
	if err := session.SelectAnswer(0); !errors.Is(err, domain.ErrResynchronizing) {
		t.Fatalf("expected input suppressed until resync, got %v", err)
	}
	session.HandleEvent(&protocol.QuestionStart{
		QIndex:   1,
		QText:    "Back in sync",
		Options:  []string{"w", "x", "y", "z"},
		Duration: 30,
		Points:   100,
	})
	if err := session.SelectAnswer(0); err != nil {
		t.Fatalf("expected input restored after authoritative event, got %v", err)
	}
}

func TestReconnectInLobbyDoesNotRejoin(t *testing.T) {
	session, emitter, _ := newTestSession(t)
	if err := session.Join(domain.SessionIdentity{RoomCode: "ABC123", Nickname: "Alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	session.ConnectionLost()
	session.ConnectionEstablished()
	if n := len(emitter.byType(protocol.EventRejoinRoom)); n != 0 {
		t.Fatalf("expected no rejoin while still in lobby, got %d", n)
	}
}

func TestResumeEmitsRejoin(t *testing.T) {
	session, emitter, _ := newTestSession(t)
	if err := session.Resume(domain.SessionIdentity{RoomCode: "ABC123", Nickname: "Alice"}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n := len(emitter.byType(protocol.EventRejoinRoom)); n != 1 {
		t.Fatalf("expected one rejoin_room, got %d", n)
	}
	if n := len(emitter.byType(protocol.EventJoinRoom)); n != 0 {
		t.Fatalf("resume must not re-run the join handshake")
	}
}

func TestFinalResultsFreezeSession(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	session.HandleEvent(&protocol.FinalResults{
		Winner: "Bob",
		Top3: []domain.LeaderboardEntry{
			{Name: "Bob", Score: 300},
			{Name: "Alice", Score: 200},
		},
	})

	snap := currentSnapshot(session)
	if snap.Phase != domain.PhaseResult {
		t.Fatalf("expected RESULT, got %s", snap.Phase)
	}
	if snap.Winner != "Bob" || snap.Rank != 2 {
		t.Fatalf("expected winner Bob and own rank 2, got %+v", snap)
	}

	// Terminal until a new identity is established.
	session.HandleEvent(&protocol.QuestionStart{
		QIndex:   5,
		QText:    "too late",
		Options:  []string{"w", "x", "y", "z"},
		Duration: 30,
	})
	if snap := currentSnapshot(session); snap.Phase != domain.PhaseResult {
		t.Fatalf("RESULT must be terminal, got %s", snap.Phase)
	}
}

func TestGameOverSynonymBehavesLikeFinalResults(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	ev, err := protocol.Decode([]byte(`{"type":"game_over","payload":{"winner":"Alice","top3":[{"name":"Alice","score":10}]}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	session.HandleEvent(ev)

	if snap := currentSnapshot(session); snap.Phase != domain.PhaseResult {
		t.Fatalf("expected RESULT from game_over synonym, got %s", snap.Phase)
	}
}

func TestStaleEventsAreIgnored(t *testing.T) {
	session, _, _ := newTestSession(t)
	if err := session.Join(domain.SessionIdentity{RoomCode: "ABC123", Nickname: "Alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	session.HandleEvent(&protocol.AnswerResult{IsCorrect: true, ScoreEarned: 10, CurrentTotal: 10})
	snap := currentSnapshot(session)
	if snap.Phase != domain.PhaseLobby || snap.Outcome != nil {
		t.Fatalf("answer_result with no active question must be dropped, got %+v", snap)
	}
}

func TestFatalErrorReturnsToPreSession(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	session.HandleEvent(&protocol.ErrorMessage{Msg: "Room not found"})

	snap := currentSnapshot(session)
	if snap.Phase != domain.PhaseLobby {
		t.Fatalf("expected forced return to lobby, got %s", snap.Phase)
	}
	if snap.Identity.RoomCode != "" || snap.Joined {
		t.Fatalf("expected identity cleared, got %+v", snap.Identity)
	}
	if snap.Notice == "" {
		t.Fatalf("expected the error surfaced as a notice")
	}
}

func TestTransientErrorKeepsPhase(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	session.HandleEvent(&protocol.ErrorMessage{Msg: "answer too late"})

	snap := currentSnapshot(session)
	if snap.Phase != domain.PhasePlaying {
		t.Fatalf("transient error must not change phase, got %s", snap.Phase)
	}
	if snap.Notice != "answer too late" {
		t.Fatalf("expected notice surfaced, got %q", snap.Notice)
	}
}

func TestZeroDurationQuestionDoesNotBlockHandling(t *testing.T) {
	session, _, _ := newTestSession(t)
	if err := session.Join(domain.SessionIdentity{RoomCode: "ABC123", Nickname: "Alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		session.HandleEvent(&protocol.QuestionStart{
			QIndex:  0,
			QText:   "No time for this one",
			Options: []string{"3", "4", "5", "22"},
		})
	}()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatalf("question_start with zero duration never finished handling")
	}

	snaps, cancel := session.Subscribe()
	defer cancel()
	snap := waitFor(t, snaps, "local expiry", func(s Snapshot) bool { return s.TimeUp })
	if snap.Phase != domain.PhasePlaying {
		t.Fatalf("local expiry must not change phase, got %s", snap.Phase)
	}
	if err := session.SelectAnswer(0); !errors.Is(err, domain.ErrTimeExpired) {
		t.Fatalf("expected ErrTimeExpired, got %v", err)
	}

	// The machine must still be consuming events.
	session.HandleEvent(&protocol.QuestionEnd{CorrectAnswerIdx: 1})
	if snap := currentSnapshot(session); snap.Phase != domain.PhaseFeedback {
		t.Fatalf("expected FEEDBACK after question_end, got %s", snap.Phase)
	}
}

func TestSubscribeInitialSnapshotIsNeverReordered(t *testing.T) {
	session, _, _ := newTestSession(t)
	joinAndStart(t, session, 20)

	noticeNum := func(s Snapshot) int {
		n, _ := strconv.Atoi(strings.TrimPrefix(s.Notice, "notice-"))
		return n
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			session.HandleEvent(&protocol.ErrorMessage{Msg: fmt.Sprintf("notice-%d", i)})
		}
	}()

	for i := 0; i < 200; i++ {
		ch, cancel := session.Subscribe()
		prev := -1
		for drained := false; !drained; {
			select {
			case snap := <-ch:
				if n := noticeNum(snap); n < prev {
					cancel()
					close(stop)
					wg.Wait()
					t.Fatalf("snapshot %d delivered after %d", n, prev)
				} else {
					prev = n
				}
			default:
				drained = true
			}
		}
		cancel()
	}
	close(stop)
	wg.Wait()
}

func TestPlayerJoinedSuccessMarksLobbyJoined(t *testing.T) {
	session, _, _ := newTestSession(t)
	if err := session.Join(domain.SessionIdentity{RoomCode: "ABC123", Nickname: "Alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	session.HandleEvent(&protocol.PlayerJoinedSuccess{Status: "ok", QuizTitle: "Capitals", QuestionCount: 12})
	session.HandleEvent(protocol.GameStarted{})

	snap := currentSnapshot(session)
	if !snap.Joined || !snap.Started {
		t.Fatalf("expected joined+started lobby sub-state, got %+v", snap)
	}
	if snap.QuizTitle != "Capitals" || snap.TotalQuestions != 12 {
		t.Fatalf("expected quiz metadata stored, got %+v", snap)
	}
}
