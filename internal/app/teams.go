package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"quizmaster/internal/domain"
)

// RegisterTeam joins a team to the game behind code. Team names are unique
// within a game.
func (e *Engine) RegisterTeam(ctx context.Context, code, name, password string) (team domain.Team, err error) {
	ctx, end := e.start(ctx, "RegisterTeam")
	defer func() { end(err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Team{}, invalid("team name is required")
	}
	if password == "" {
		return domain.Team{}, invalid("password is required")
	}
	game, err := e.GameByCode(ctx, code)
	if err != nil {
		return domain.Team{}, err
	}
	if !game.Active {
		return domain.Team{}, domain.ErrGameInactive
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Team{}, fmt.Errorf("hash password: %w", err)
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockGame(ctx, game.ID); err != nil {
			return err
		}
		if err := ensureNameFree(ctx, tx, game.ID, name, ""); err != nil {
			return err
		}
		team = domain.Team{
			ID:           e.newID(),
			GameID:       game.ID,
			Name:         name,
			PasswordHash: string(hash),
			CreatedAt:    e.now(),
		}
		return tx.CreateTeam(ctx, team)
	})
	if err != nil {
		return domain.Team{}, err
	}
	e.log.InfoContext(ctx, "team registered", "game_id", game.ID, "team_id", team.ID)
	e.emit(ctx, domain.Event{Type: domain.EventTeamUpdated, GameID: game.ID, TeamID: team.ID})
	return team, nil
}

func ensureNameFree(ctx context.Context, tx Tx, gameID, name, selfID string) error {
	other, err := tx.TeamByName(ctx, gameID, name)
	switch {
	case errors.Is(err, domain.ErrTeamNotFound):
		return nil
	case err != nil:
		return err
	case other.ID != selfID:
		return domain.ErrTeamNameTaken
	}
	return nil
}

// SignIn checks a team's password and counts the login.
func (e *Engine) SignIn(ctx context.Context, code, name, password string) (team domain.Team, err error) {
	ctx, end := e.start(ctx, "SignIn")
	defer func() { end(err) }()

	game, err := e.GameByCode(ctx, code)
	if err != nil {
		return domain.Team{}, err
	}
	found, err := e.store.TeamByName(ctx, game.ID, strings.TrimSpace(name))
	if errors.Is(err, domain.ErrTeamNotFound) {
		return domain.Team{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Team{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(password)) != nil {
		return domain.Team{}, domain.ErrInvalidCredentials
	}
	return e.updateTeam(ctx, found.ID, func(t *domain.Team) error {
		t.LoginCount++
		return nil
	})
}

// Authenticate checks a team's password without counting a login. An
// unknown team fails the same way as a wrong password.
func (e *Engine) Authenticate(ctx context.Context, teamID, password string) (team domain.Team, err error) {
	ctx, end := e.start(ctx, "Authenticate", attribute.String("team_id", teamID))
	defer func() { end(err) }()

	team, err = e.store.Team(ctx, teamID)
	if errors.Is(err, domain.ErrTeamNotFound) {
		return domain.Team{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Team{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(team.PasswordHash), []byte(password)) != nil {
		return domain.Team{}, domain.ErrInvalidCredentials
	}
	return team, nil
}

// SignOut counts a logout.
func (e *Engine) SignOut(ctx context.Context, teamID string) (err error) {
	ctx, end := e.start(ctx, "SignOut", attribute.String("team_id", teamID))
	defer func() { end(err) }()

	_, err = e.updateTeam(ctx, teamID, func(t *domain.Team) error {
		t.LogoutCount++
		return nil
	})
	return err
}

// updateTeam locks a team, applies fn and stores the result.
func (e *Engine) updateTeam(ctx context.Context, teamID string, fn func(t *domain.Team) error) (domain.Team, error) {
	var team domain.Team
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.LockTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		team = t
		return tx.UpdateTeam(ctx, t)
	})
	return team, err
}

// Team returns a team by id.
func (e *Engine) Team(ctx context.Context, teamID string) (domain.Team, error) {
	return e.store.Team(ctx, teamID)
}

// Teams lists the teams of a game.
func (e *Engine) Teams(ctx context.Context, gameID string) ([]domain.Team, error) {
	return e.store.Teams(ctx, gameID)
}

// authorizeTeam allows admins on any team and teams only on themselves.
func authorizeTeam(p domain.Principal, teamID string) error {
	switch v := p.(type) {
	case domain.AdminPrincipal:
		return nil
	case domain.TeamPrincipal:
		if v.TeamID == teamID {
			return nil
		}
	}
	return domain.ErrNotPermitted
}

// RenameTeam changes a team's name. Teams may rename only themselves.
func (e *Engine) RenameTeam(ctx context.Context, p domain.Principal, teamID, name string) (team domain.Team, err error) {
	ctx, end := e.start(ctx, "RenameTeam", attribute.String("team_id", teamID))
	defer func() { end(err) }()

	if err := authorizeTeam(p, teamID); err != nil {
		return domain.Team{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Team{}, invalid("team name is required")
	}
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.LockTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if _, err := tx.LockGame(ctx, t.GameID); err != nil {
			return err
		}
		if err := ensureNameFree(ctx, tx, t.GameID, name, t.ID); err != nil {
			return err
		}
		t.Name = name
		team = t
		return tx.UpdateTeam(ctx, t)
	})
	if err != nil {
		return domain.Team{}, err
	}
	e.emit(ctx, domain.Event{
		Type:   domain.EventTeamUpdated,
		GameID: team.GameID,
		TeamID: team.ID,
		Data:   map[string]any{"name": team.Name},
	})
	return team, nil
}

// ChangeTeamPassword replaces a team's password.
func (e *Engine) ChangeTeamPassword(ctx context.Context, p domain.Principal, teamID, password string) (err error) {
	ctx, end := e.start(ctx, "ChangeTeamPassword", attribute.String("team_id", teamID))
	defer func() { end(err) }()

	if err := authorizeTeam(p, teamID); err != nil {
		return err
	}
	if password == "" {
		return invalid("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = e.updateTeam(ctx, teamID, func(t *domain.Team) error {
		t.PasswordHash = string(hash)
		return nil
	})
	return err
}

// DeleteTeam removes a team together with its answers and grants.
func (e *Engine) DeleteTeam(ctx context.Context, teamID string) (err error) {
	ctx, end := e.start(ctx, "DeleteTeam", attribute.String("team_id", teamID))
	defer func() { end(err) }()

	var gameID string
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.LockTeam(ctx, teamID)
		if err != nil {
			return err
		}
		gameID = t.GameID
		return tx.DeleteTeam(ctx, teamID)
	})
	if err != nil {
		return err
	}
	e.log.InfoContext(ctx, "team deleted", "game_id", gameID, "team_id", teamID)
	e.emit(ctx,
		domain.Event{Type: domain.EventTeamDeleted, GameID: gameID, TeamID: teamID},
		domain.Event{Type: domain.EventScoreUpdated, GameID: gameID},
	)
	return nil
}

// SetManualPenalty records the informational penalty shown on a team.
func (e *Engine) SetManualPenalty(ctx context.Context, teamID string, penalty float64) (err error) {
	ctx, end := e.start(ctx, "SetManualPenalty", attribute.String("team_id", teamID))
	defer func() { end(err) }()

	team, err := e.updateTeam(ctx, teamID, func(t *domain.Team) error {
		t.ManualPenalty = penalty
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(ctx, domain.Event{
		Type:     domain.EventTeamUpdated,
		Audience: domain.AudienceAdmin,
		GameID:   team.GameID,
		TeamID:   team.ID,
		Data:     map[string]any{"manualPenalty": penalty},
	})
	return nil
}
