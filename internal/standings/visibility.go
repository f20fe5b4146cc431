package standings

import (
	"quizmaster/internal/domain"
	"quizmaster/internal/rounds"
)

// IsHidden reports whether the leaderboard must be withheld from a viewing
// team. Finished games and viewers without a team always see it. Otherwise
// it is hidden once the final round is closed and the viewer has answered
// it, until the game is finished.
//
// The final round is looked up on every call, so reordering rounds moves it.
func IsHidden(game domain.Game, h *rounds.Hierarchy, viewerTeamID string, submitted map[string]bool) bool {
	if game.Finished || viewerTeamID == "" {
		return false
	}
	final, ok := h.FinalRound()
	if !ok {
		return false
	}
	return !final.Open && submitted[final.ID]
}
