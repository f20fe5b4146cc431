package scoring

import (
	"math"

	"quizmaster/internal/domain"
)

// Settle recomputes the points of every answer to a betting question once
// the finish order is known. finishOrder[0] is first place. Answers whose
// stored wager cannot be parsed are returned in skipped, untouched.
//
// Settlement overwrites earlier results, so running it twice with the same
// order yields the same points.
func Settle(q domain.Question, finishOrder []string, answers []domain.Answer) (updated []domain.Answer, skipped []string) {
	cfg := q.BettingRule()
	cfg.Results = finishOrder
	for _, a := range answers {
		bet, err := domain.ParseBet(a.Text)
		if err != nil {
			skipped = append(skipped, a.ID)
			continue
		}
		a.Points = settledPoints(cfg, bet.Amount, bet.Choice)
		updated = append(updated, a)
	}
	return updated, skipped
}

// settledPoints is the outcome of a stake on choice given cfg.Results.
// Winning profit is floored at zero; every other outcome loses the stake.
func settledPoints(cfg domain.BettingConfig, stake float64, choice string) float64 {
	place := -1
	for i, c := range cfg.Results {
		if c == choice {
			place = i
			break
		}
	}
	if place < 0 || place >= len(cfg.Multipliers) {
		return -stake
	}
	return math.Max(0, stake*cfg.Multipliers[place]-stake)
}
