// Package standings computes team totals, leaderboards and the admin
// scoresheet. Totals are always derived on read and never stored.
package standings

import (
	"sort"

	"quizmaster/internal/domain"
)

// TabAwayDivisor is the number of away seconds that cost one point.
const TabAwayDivisor = 10

// TabPenalty is the deduction for seconds spent away from the quiz page.
func TabPenalty(seconds int) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(seconds / TabAwayDivisor)
}

// Tally is the per-team sum over answer columns.
type Tally struct {
	Points  float64
	Bonus   float64
	Penalty float64
}

// Net is points plus bonus minus penalty.
func (t Tally) Net() float64 {
	return t.Points + t.Bonus - t.Penalty
}

// TallyAnswers sums answers by team.
func TallyAnswers(answers []domain.Answer) map[string]Tally {
	out := make(map[string]Tally)
	for _, a := range answers {
		t := out[a.TeamID]
		t.Points += a.Points
		t.Bonus += a.Bonus
		t.Penalty += a.Penalty
		out[a.TeamID] = t
	}
	return out
}

// CustomTotal sums a team's manually scored columns.
func CustomTotal(team domain.Team) float64 {
	var sum float64
	for _, v := range team.CustomScores {
		sum += v
	}
	return sum
}

// Total is a team's score: answer points plus bonus minus penalty, plus the
// custom columns, minus the tab-away deduction. The manual penalty shown on
// the team is informational and is not subtracted here.
func Total(team domain.Team, t Tally) float64 {
	return t.Net() + CustomTotal(team) - TabPenalty(team.TabAwaySeconds)
}

// Row is one leaderboard line.
type Row struct {
	Position       int                `json:"position"`
	Rank           int                `json:"rank"`
	TeamID         string             `json:"teamId"`
	TeamName       string             `json:"teamName"`
	Total          float64            `json:"total"`
	AnswerPoints   float64            `json:"answerPoints"`
	Bonus          float64            `json:"bonus"`
	Penalty        float64            `json:"penalty"`
	CustomScores   map[string]float64 `json:"customScores,omitempty"`
	TabAwaySeconds int                `json:"tabAwaySeconds"`
	TabPenalty     float64            `json:"tabPenalty"`
	TabSwitchCount int                `json:"tabSwitchCount"`
	ManualPenalty  float64            `json:"manualPenalty"`
}

// Board is a ranked leaderboard. Hidden boards carry no rows.
type Board struct {
	GameID string `json:"gameId"`
	Hidden bool   `json:"hidden"`
	Rows   []Row  `json:"rows"`
}

// Rank orders teams by total, highest first. Equal totals keep the team that
// registered first ahead, then sort by name. Position is the 1-based row
// index; Rank gives tied teams the same number (1, 2, 2, 4).
func Rank(teams []domain.Team, tallies map[string]Tally) []Row {
	type entry struct {
		team domain.Team
		row  Row
	}
	entries := make([]entry, 0, len(teams))
	for _, team := range teams {
		t := tallies[team.ID]
		entries = append(entries, entry{team: team, row: Row{
			TeamID:         team.ID,
			TeamName:       team.Name,
			Total:          Total(team, t),
			AnswerPoints:   t.Points,
			Bonus:          t.Bonus,
			Penalty:        t.Penalty,
			CustomScores:   copyScores(team.CustomScores),
			TabAwaySeconds: team.TabAwaySeconds,
			TabPenalty:     TabPenalty(team.TabAwaySeconds),
			TabSwitchCount: team.TabSwitchCount,
			ManualPenalty:  team.ManualPenalty,
		}})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.row.Total != b.row.Total {
			return a.row.Total > b.row.Total
		}
		if !a.team.CreatedAt.Equal(b.team.CreatedAt) {
			return a.team.CreatedAt.Before(b.team.CreatedAt)
		}
		return a.team.Name < b.team.Name
	})

	rows := make([]Row, len(entries))
	for i, e := range entries {
		e.row.Position = i + 1
		e.row.Rank = i + 1
		if i > 0 && e.row.Total == rows[i-1].Total {
			e.row.Rank = rows[i-1].Rank
		}
		rows[i] = e.row
	}
	return rows
}

func copyScores(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
