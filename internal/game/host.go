package game

import (
	"sync"

	"github.com/rs/zerolog"

	"quizizz-client/internal/domain"
	"quizizz-client/internal/leaderboard"
	"quizizz-client/internal/protocol"
)

// HostSnapshot is the read model for the host dashboard.
type HostSnapshot struct {
	Phase        domain.HostPhase
	RoomCode     string
	Players      []string
	PlayerCount  int
	Question     *domain.Question
	Stats        domain.AnswerStats
	Leaderboard  domain.LeaderboardSnapshot
	Winner       string
	Reconnecting bool
	Notice       string
}

// HostSession tracks a room from the host's side: a lobby roster, the running
// question with live answer stats, and the final ranking. It follows the same
// consumption discipline as the player Session but with the coarser
// LOBBY/PLAYING/ENDED phases.
type HostSession struct {
	log  zerolog.Logger
	emit Emitter

	mu        sync.Mutex
	phase     domain.HostPhase
	roomCode  string
	players   []string
	count     int
	question  *domain.Question
	stats     domain.AnswerStats
	board     domain.LeaderboardSnapshot
	winner    string
	connected bool
	notice    string

	subs   map[chan HostSnapshot]struct{}
	closed bool
}

// NewHostSession builds a host session for one room in the lobby phase.
func NewHostSession(roomCode string, emit Emitter, logger zerolog.Logger) *HostSession {
	return &HostSession{
		log:       logger,
		emit:      emit,
		phase:     domain.HostPhaseLobby,
		roomCode:  roomCode,
		connected: true,
		subs:      make(map[chan HostSnapshot]struct{}),
	}
}

// StartGame begins play. It is rejected while the lobby is empty.
func (h *HostSession) StartGame() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return domain.ErrNoPlayers
	}
	if err := h.emit.Emit(protocol.EventStartGame, protocol.HostCommand{RoomCode: h.roomCode}); err != nil {
		return err
	}
	h.phase = domain.HostPhasePlaying
	h.broadcastLocked()
	return nil
}

// NextQuestion advances the room to the next question.
func (h *HostSession) NextQuestion() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != domain.HostPhasePlaying {
		return domain.ErrGameNotRunning
	}
	return h.emit.Emit(protocol.EventNextQuestion, protocol.HostCommand{RoomCode: h.roomCode})
}

// EndGame asks the server to finish the game; the phase flips to ENDED when
// the final results come back.
func (h *HostSession) EndGame() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != domain.HostPhasePlaying {
		return domain.ErrGameNotRunning
	}
	return h.emit.Emit(protocol.EventGameOver, protocol.HostCommand{RoomCode: h.roomCode})
}

// HandleEvent applies one inbound server event.
func (h *HostSession) HandleEvent(ev protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	switch e := ev.(type) {
	case *protocol.PlayerJoined:
		if len(e.Players) > 0 {
			h.players = append([]string(nil), e.Players...)
		} else if e.Name != "" {
			h.players = append(h.players, e.Name)
		}
		h.count = e.TotalPlayers
		if h.count == 0 {
			h.count = len(h.players)
		}
		h.broadcastLocked()
	case *protocol.QuestionStart:
		q := e.Question()
		h.question = &q
		h.stats = domain.AnswerStats{}
		h.phase = domain.HostPhasePlaying
		h.broadcastLocked()
	case *protocol.LiveStats:
		h.stats = e.AnswerStats
		h.broadcastLocked()
	case *protocol.UpdateLeaderboard:
		h.board = domain.LeaderboardSnapshot{Entries: leaderboard.Normalize(e.Leaderboard)}
		h.broadcastLocked()
	case *protocol.FinalResults:
		h.board = domain.LeaderboardSnapshot{Entries: leaderboard.Normalize(e.Entries())}
		h.winner = e.Winner
		h.phase = domain.HostPhaseEnded
		h.log.Info().Str("winner", e.Winner).Msg("game ended")
		h.broadcastLocked()
	case *protocol.ErrorMessage:
		h.notice = e.Msg
		h.log.Warn().Str("msg", e.Msg).Msg("server error")
		h.broadcastLocked()
	default:
		h.log.Debug().Str("event", ev.EventName()).Msg("ignoring event without host semantics")
	}
}

// ConnectionLost marks the transport as down.
func (h *HostSession) ConnectionLost() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
	h.broadcastLocked()
}

// ConnectionEstablished marks the transport as up again.
func (h *HostSession) ConnectionEstablished() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = true
	h.broadcastLocked()
}

// Subscribe returns a channel receiving host snapshots, starting with the
// current one. The caller must invoke cancel to avoid leaking the handler.
func (h *HostSession) Subscribe() (<-chan HostSnapshot, func()) {
	ch := make(chan HostSnapshot, 8)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	// Sent under the lock so no broadcast can slip in ahead of the initial
	// snapshot; the buffer guarantees this never blocks.
	ch <- h.snapshotLocked()
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Close tears the host session down and unsubscribes every consumer.
func (h *HostSession) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *HostSession) broadcastLocked() {
	snap := h.snapshotLocked()
	for ch := range h.subs {
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

func (h *HostSession) snapshotLocked() HostSnapshot {
	snap := HostSnapshot{
		Phase:        h.phase,
		RoomCode:     h.roomCode,
		Players:      append([]string(nil), h.players...),
		PlayerCount:  h.count,
		Stats:        h.stats,
		Leaderboard:  h.board,
		Winner:       h.winner,
		Reconnecting: !h.connected,
		Notice:       h.notice,
	}
	if h.question != nil {
		q := *h.question
		snap.Question = &q
	}
	return snap
}
