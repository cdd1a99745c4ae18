package domain

import "errors"

var (
	// ErrRoomCodeRequired is returned when joining without a room code.
	ErrRoomCodeRequired = errors.New("room code required")
	// ErrNicknameLength is returned when the display name is outside 2-20 characters.
	ErrNicknameLength = errors.New("nickname must be 2-20 characters")
	// ErrNoActiveQuestion is returned when an answer is selected outside the playing phase.
	ErrNoActiveQuestion = errors.New("no active question")
	// ErrAlreadyAnswered is returned on a second selection attempt for the same question.
	ErrAlreadyAnswered = errors.New("answer already submitted for this question")
	// ErrTimeExpired is returned when selecting after the local countdown reached zero.
	ErrTimeExpired = errors.New("time expired for this question")
	// ErrInvalidOption is returned for an option index outside the question's options.
	ErrInvalidOption = errors.New("invalid option index")
	// ErrResynchronizing is returned while answer input is suppressed during reconnection.
	ErrResynchronizing = errors.New("resynchronizing with server")
	// ErrNoPlayers is returned when the host starts a game with an empty lobby.
	ErrNoPlayers = errors.New("no players have joined")
	// ErrGameNotRunning is returned for host commands that require a running game.
	ErrGameNotRunning = errors.New("game is not running")
	// ErrIdentityNotFound is returned when no stored identity is available to resume.
	ErrIdentityNotFound = errors.New("no stored session identity")
)
