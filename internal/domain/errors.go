package domain

import "errors"

var (
	// ErrGameNotFound is returned when a game id or join code does not resolve.
	ErrGameNotFound = errors.New("game not found")
	// ErrRoundNotFound is returned when a round id does not resolve.
	ErrRoundNotFound = errors.New("round not found")
	// ErrTeamNotFound is returned when a team id does not resolve.
	ErrTeamNotFound = errors.New("team not found")
	// ErrAnswerNotFound is returned when an answer id does not resolve.
	ErrAnswerNotFound = errors.New("answer not found")
	// ErrQuestionNotFound indicates a question id is not part of the round.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrColumnNotFound indicates a custom scoring column id is unknown.
	ErrColumnNotFound = errors.New("custom column not found")

	// ErrRoundClosed rejects submissions to a round that is not open.
	ErrRoundClosed = errors.New("round is closed")
	// ErrAlreadySubmitted rejects a second submission without a resubmission grant.
	ErrAlreadySubmitted = errors.New("answers already submitted for this round")
	// ErrTeamNotInGame rejects actions on rounds or games the team does not belong to.
	ErrTeamNotInGame = errors.New("team does not belong to this game")
	// ErrRoundIsContainer rejects submissions to a round that has child rounds.
	ErrRoundIsContainer = errors.New("round contains sub-rounds and cannot be answered")
	// ErrNotPermitted rejects an action the principal is not allowed to perform.
	ErrNotPermitted = errors.New("not permitted")
	// ErrGameInactive rejects joining a game that is no longer active.
	ErrGameInactive = errors.New("game is no longer active")

	// ErrInvalidInput covers malformed primitive input from callers.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTeamNameTaken enforces the unique (game, name) pair.
	ErrTeamNameTaken = errors.New("team name already taken")
	// ErrInvalidCredentials is returned on a failed team sign-in.
	ErrInvalidCredentials = errors.New("invalid team credentials")
	// ErrInvalidPauseMode rejects unknown pause modes.
	ErrInvalidPauseMode = errors.New("invalid pause mode")
	// ErrNotBettingQuestion rejects settlement of a non-betting question.
	ErrNotBettingQuestion = errors.New("question is not a betting question")
	// ErrCodeExhausted is returned when no unique join code could be issued.
	ErrCodeExhausted = errors.New("could not allocate a unique game code")
)
