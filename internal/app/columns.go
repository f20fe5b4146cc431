package app

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"quizmaster/internal/domain"
)

// AddCustomColumn appends a manually scored column to a game.
func (e *Engine) AddCustomColumn(ctx context.Context, gameID, name string) (col domain.CustomColumn, err error) {
	ctx, end := e.start(ctx, "AddCustomColumn", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return domain.CustomColumn{}, invalid("column name is required")
	}
	col = domain.CustomColumn{ID: e.newID(), Name: name}
	game, err := e.updateGame(ctx, gameID, func(g *domain.Game) error {
		g.CustomColumns = append(append([]domain.CustomColumn(nil), g.CustomColumns...), col)
		return nil
	})
	if err != nil {
		return domain.CustomColumn{}, err
	}
	e.emitColumns(ctx, game)
	return col, nil
}

// RenameCustomColumn changes a column's header.
func (e *Engine) RenameCustomColumn(ctx context.Context, gameID, columnID, name string) (err error) {
	ctx, end := e.start(ctx, "RenameCustomColumn", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("column name is required")
	}
	game, err := e.updateGame(ctx, gameID, func(g *domain.Game) error {
		cols := append([]domain.CustomColumn(nil), g.CustomColumns...)
		for i := range cols {
			if cols[i].ID == columnID {
				cols[i].Name = name
				g.CustomColumns = cols
				return nil
			}
		}
		return domain.ErrColumnNotFound
	})
	if err != nil {
		return err
	}
	e.emitColumns(ctx, game)
	return nil
}

// DeleteCustomColumn drops a column and every team's value in it.
func (e *Engine) DeleteCustomColumn(ctx context.Context, gameID, columnID string) (err error) {
	ctx, end := e.start(ctx, "DeleteCustomColumn", attribute.String("game_id", gameID))
	defer func() { end(err) }()

	var game domain.Game
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		g, err := tx.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		kept := make([]domain.CustomColumn, 0, len(g.CustomColumns))
		for _, c := range g.CustomColumns {
			if c.ID != columnID {
				kept = append(kept, c)
			}
		}
		if len(kept) == len(g.CustomColumns) {
			return domain.ErrColumnNotFound
		}
		g.CustomColumns = kept
		if err := tx.UpdateGame(ctx, g); err != nil {
			return err
		}
		game = g

		teams, err := tx.Teams(ctx, gameID)
		if err != nil {
			return err
		}
		for _, t := range teams {
			if _, ok := t.CustomScores[columnID]; !ok {
				continue
			}
			locked, err := tx.LockTeam(ctx, t.ID)
			if err != nil {
				return err
			}
			locked.CustomScores = copyWithout(locked.CustomScores, columnID)
			if err := tx.UpdateTeam(ctx, locked); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emitColumns(ctx, game)
	e.emit(ctx, domain.Event{Type: domain.EventScoreUpdated, GameID: gameID})
	return nil
}

// SetCustomScore sets a team's value in a custom column.
func (e *Engine) SetCustomScore(ctx context.Context, teamID, columnID string, value float64) (err error) {
	ctx, end := e.start(ctx, "SetCustomScore", attribute.String("team_id", teamID))
	defer func() { end(err) }()

	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.LockTeam(ctx, teamID)
		if err != nil {
			return err
		}
		g, err := tx.Game(ctx, t.GameID)
		if err != nil {
			return err
		}
		if _, ok := g.Column(columnID); !ok {
			return domain.ErrColumnNotFound
		}
		scores := copyWithout(t.CustomScores, "")
		scores[columnID] = value
		t.CustomScores = scores
		gameID = t.GameID
		return tx.UpdateTeam(ctx, t)
	})
	if err != nil {
		return err
	}
	e.emit(ctx, domain.Event{
		Type:   domain.EventScoreUpdated,
		GameID: gameID,
		TeamID: teamID,
		Data:   map[string]any{"columnId": columnID, "value": value},
	})
	return nil
}

func (e *Engine) emitColumns(ctx context.Context, g domain.Game) {
	e.emit(ctx, domain.Event{
		Type:   domain.EventColumnsUpdated,
		GameID: g.ID,
		Data:   map[string]any{"columns": g.CustomColumns},
	})
}

func copyWithout(in map[string]float64, key string) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if k != key {
			out[k] = v
		}
	}
	return out
}
