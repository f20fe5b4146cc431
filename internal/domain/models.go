package domain

import "time"

// PauseMode is the between-rounds state a game can be held in.
type PauseMode string

const (
	PauseNone     PauseMode = ""
	PauseStarting PauseMode = "starting"
	PauseHalftime PauseMode = "halftime"
)

// Valid reports whether m is one of the known pause modes.
func (m PauseMode) Valid() bool {
	switch m {
	case PauseNone, PauseStarting, PauseHalftime:
		return true
	}
	return false
}

// CustomColumn is a manually scored column shown next to the rounds.
type CustomColumn struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Game owns rounds and teams. Code is issued once and never changes.
type Game struct {
	ID                string
	Name              string
	Code              string
	Active            bool
	Finished          bool
	PauseMode         PauseMode
	TabPenaltyEnabled bool
	CustomColumns     []CustomColumn
	CreatedAt         time.Time
}

// Column returns the custom column with the given id.
func (g Game) Column(id string) (CustomColumn, bool) {
	for _, c := range g.CustomColumns {
		if c.ID == id {
			return c, true
		}
	}
	return CustomColumn{}, false
}

// Round is a group of questions. A round with children is a container and
// never receives answers directly.
type Round struct {
	ID          string
	GameID      string
	ParentID    string // empty for top-level rounds
	Name        string
	Order       int
	Open        bool
	Questions   []Question
	TimerEndsAt *time.Time
	CreatedAt   time.Time
}

// Question returns the question with the given id.
func (r Round) Question(id string) (Question, bool) {
	for _, q := range r.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Team is a player group inside one game.
type Team struct {
	ID             string
	GameID         string
	Name           string
	PasswordHash   string
	TabAwaySeconds int
	TabSwitchCount int
	LoginCount     int
	LogoutCount    int
	ManualPenalty  float64
	CustomScores   map[string]float64
	CreatedAt      time.Time
}

// Answer is the single live answer of a team to one question of a round.
type Answer struct {
	ID          string
	TeamID      string
	RoundID     string
	QuestionID  string
	Text        string
	Points      float64
	Bonus       float64
	Penalty     float64
	Notes       string
	SubmittedAt time.Time
}

// Total is points plus bonus minus penalty.
func (a Answer) Total() float64 {
	return a.Points + a.Bonus - a.Penalty
}

// AnswerKey identifies the (team, round, question) slot an answer occupies.
type AnswerKey struct {
	TeamID     string
	RoundID    string
	QuestionID string
}

// Key returns the slot of a.
func (a Answer) Key() AnswerKey {
	return AnswerKey{TeamID: a.TeamID, RoundID: a.RoundID, QuestionID: a.QuestionID}
}

// ResubmitPermission lifts the already-submitted lock for one submission.
type ResubmitPermission struct {
	TeamID    string
	RoundID   string
	CreatedAt time.Time
}

// Submission maps question id to the raw submitted value. Betting and
// ordering values are JSON encoded (see EncodeBet, EncodeOrdering).
type Submission map[string]string
