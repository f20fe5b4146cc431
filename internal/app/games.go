package app

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"quizmaster/internal/domain"
)

// CreateGame issues a new game with a unique join code.
func (e *Engine) CreateGame(ctx context.Context, name string) (game domain.Game, err error) {
	ctx, end := e.start(ctx, "CreateGame")
	defer func() { end(err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Game{}, invalid("game name is required")
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			code, err := e.newCode()
			if err != nil {
				return err
			}
			_, err = tx.GameByCode(ctx, code)
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrGameNotFound) {
				return err
			}
			game = domain.Game{
				ID:                e.newID(),
				Name:              name,
				Code:              code,
				Active:            true,
				TabPenaltyEnabled: true,
				CreatedAt:         e.now(),
			}
			return tx.CreateGame(ctx, game)
		}
		return domain.ErrCodeExhausted
	})
	if err != nil {
		return domain.Game{}, err
	}
	e.log.InfoContext(ctx, "game created", "game_id", game.ID, "code", game.Code)
	return game, nil
}

// Game returns a game by id.
func (e *Engine) Game(ctx context.Context, gameID string) (domain.Game, error) {
	return e.store.Game(ctx, gameID)
}

// GameByCode resolves a join code, ignoring case.
func (e *Engine) GameByCode(ctx context.Context, code string) (domain.Game, error) {
	return e.store.GameByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// updateGame locks a game, applies fn and stores the result.
func (e *Engine) updateGame(ctx context.Context, gameID string, fn func(g *domain.Game) error) (domain.Game, error) {
	var game domain.Game
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		g, err := tx.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		if err := fn(&g); err != nil {
			return err
		}
		game = g
		return tx.UpdateGame(ctx, g)
	})
	return game, err
}

// RenameGame changes the display name of a game.
func (e *Engine) RenameGame(ctx context.Context, gameID, name string) (err error) {
	ctx, end := e.start(ctx, "RenameGame", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("game name is required")
	}
	_, err = e.updateGame(ctx, gameID, func(g *domain.Game) error {
		g.Name = name
		return nil
	})
	return err
}

// SetGameActive opens or closes a game for new team registrations.
func (e *Engine) SetGameActive(ctx context.Context, gameID string, active bool) (err error) {
	ctx, end := e.start(ctx, "SetGameActive", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	_, err = e.updateGame(ctx, gameID, func(g *domain.Game) error {
		g.Active = active
		return nil
	})
	return err
}

// SetPause holds or resumes a game. Entering a pause switches tab tracking
// off and leaving it switches tracking back on.
func (e *Engine) SetPause(ctx context.Context, gameID string, mode domain.PauseMode) (game domain.Game, err error) {
	ctx, end := e.start(ctx, "SetPause", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	if !mode.Valid() {
		return domain.Game{}, domain.ErrInvalidPauseMode
	}
	game, err = e.updateGame(ctx, gameID, func(g *domain.Game) error {
		wasPaused := g.PauseMode != domain.PauseNone
		willPause := mode != domain.PauseNone
		switch {
		case willPause && !wasPaused:
			g.TabPenaltyEnabled = false
		case !willPause && wasPaused:
			g.TabPenaltyEnabled = true
		}
		g.PauseMode = mode
		return nil
	})
	if err != nil {
		return domain.Game{}, err
	}
	e.emit(ctx, domain.Event{
		Type:   domain.EventGamePauseChanged,
		GameID: gameID,
		Data: map[string]any{
			"pauseMode":         string(game.PauseMode),
			"tabPenaltyEnabled": game.TabPenaltyEnabled,
		},
	})
	return game, nil
}

// FinishGame reveals the final standings to everyone.
func (e *Engine) FinishGame(ctx context.Context, gameID string) (err error) {
	ctx, end := e.start(ctx, "FinishGame", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	if _, err = e.updateGame(ctx, gameID, func(g *domain.Game) error {
		g.Finished = true
		return nil
	}); err != nil {
		return err
	}
	e.emit(ctx, domain.Event{Type: domain.EventGameFinished, GameID: gameID})
	return nil
}

// UnfinishGame reverts FinishGame.
func (e *Engine) UnfinishGame(ctx context.Context, gameID string) (err error) {
	ctx, end := e.start(ctx, "UnfinishGame", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	if _, err = e.updateGame(ctx, gameID, func(g *domain.Game) error {
		g.Finished = false
		return nil
	}); err != nil {
		return err
	}
	e.emit(ctx, domain.Event{Type: domain.EventGameUnfinished, GameID: gameID})
	return nil
}

// SetTabPenaltyEnabled switches away-time tracking on or off.
func (e *Engine) SetTabPenaltyEnabled(ctx context.Context, gameID string, enabled bool) (err error) {
	ctx, end := e.start(ctx, "SetTabPenaltyEnabled", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	if _, err = e.updateGame(ctx, gameID, func(g *domain.Game) error {
		g.TabPenaltyEnabled = enabled
		return nil
	}); err != nil {
		return err
	}
	e.emit(ctx, domain.Event{
		Type:   domain.EventTabTrackingChanged,
		GameID: gameID,
		Data:   map[string]any{"enabled": enabled},
	})
	return nil
}
