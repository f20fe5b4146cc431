package standings

import (
	"quizmaster/internal/domain"
	"quizmaster/internal/rounds"
)

// SheetColumn is a scored column of the admin scoresheet.
type SheetColumn struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
	Custom   bool   `json:"custom,omitempty"`
}

// SheetRow is one team's line: a net score per leaf round and per custom
// column, followed by the deductions and the total.
type SheetRow struct {
	Row
	Rounds    map[string]float64 `json:"rounds"`
	Submitted map[string]bool    `json:"submitted"`
}

// Scoresheet is the admin view of every team's round-by-round scores.
type Scoresheet struct {
	GameID  string        `json:"gameId"`
	Columns []SheetColumn `json:"columns"`
	Rows    []SheetRow    `json:"rows"`
}

// BuildScoresheet breaks each team's total down by leaf round. Rows are
// ranked like the leaderboard.
func BuildScoresheet(game domain.Game, h *rounds.Hierarchy, teams []domain.Team, answers []domain.Answer) Scoresheet {
	sheet := Scoresheet{GameID: game.ID}
	for _, r := range h.Leaves() {
		sheet.Columns = append(sheet.Columns, SheetColumn{ID: r.ID, Name: r.Name, ParentID: r.ParentID})
	}
	for _, c := range game.CustomColumns {
		sheet.Columns = append(sheet.Columns, SheetColumn{ID: c.ID, Name: c.Name, Custom: true})
	}

	perRound := make(map[string]map[string]float64, len(teams))
	submitted := make(map[string]map[string]bool, len(teams))
	for _, a := range answers {
		if perRound[a.TeamID] == nil {
			perRound[a.TeamID] = make(map[string]float64)
			submitted[a.TeamID] = make(map[string]bool)
		}
		perRound[a.TeamID][a.RoundID] += a.Total()
		submitted[a.TeamID][a.RoundID] = true
	}

	for _, row := range Rank(teams, TallyAnswers(answers)) {
		sr := SheetRow{Row: row, Rounds: perRound[row.TeamID], Submitted: submitted[row.TeamID]}
		if sr.Rounds == nil {
			sr.Rounds = map[string]float64{}
			sr.Submitted = map[string]bool{}
		}
		sheet.Rows = append(sheet.Rows, sr)
	}
	return sheet
}
