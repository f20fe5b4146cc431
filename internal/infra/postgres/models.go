package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quizmaster/internal/domain"
)

type gameModel struct {
	bun.BaseModel `bun:"table:games,alias:g"`

	ID                string                `bun:"id,pk,type:uuid"`
	Name              string                `bun:"name,notnull"`
	Code              string                `bun:"code,notnull,unique"`
	Active            bool                  `bun:"active,notnull"`
	Finished          bool                  `bun:"finished,notnull"`
	PauseMode         string                `bun:"pause_mode,notnull"`
	TabPenaltyEnabled bool                  `bun:"tab_penalty_enabled,notnull"`
	CustomColumns     []domain.CustomColumn `bun:"custom_columns,type:jsonb,notnull"`
	CreatedAt         time.Time             `bun:"created_at,notnull"`
}

func newGameModel(g domain.Game) *gameModel {
	cols := g.CustomColumns
	if cols == nil {
		cols = []domain.CustomColumn{}
	}
	return &gameModel{
		ID:                g.ID,
		Name:              g.Name,
		Code:              g.Code,
		Active:            g.Active,
		Finished:          g.Finished,
		PauseMode:         string(g.PauseMode),
		TabPenaltyEnabled: g.TabPenaltyEnabled,
		CustomColumns:     cols,
		CreatedAt:         g.CreatedAt,
	}
}

func (m *gameModel) toDomain() domain.Game {
	return domain.Game{
		ID:                m.ID,
		Name:              m.Name,
		Code:              m.Code,
		Active:            m.Active,
		Finished:          m.Finished,
		PauseMode:         domain.PauseMode(m.PauseMode),
		TabPenaltyEnabled: m.TabPenaltyEnabled,
		CustomColumns:     m.CustomColumns,
		CreatedAt:         m.CreatedAt,
	}
}

type roundModel struct {
	bun.BaseModel `bun:"table:rounds,alias:r"`

	ID          string          `bun:"id,pk,type:uuid"`
	GameID      string          `bun:"game_id,notnull,type:uuid"`
	ParentID    string          `bun:"parent_id,nullzero,type:uuid"`
	Name        string          `bun:"name,notnull"`
	Order       int             `bun:"sort_order,notnull"`
	Open        bool            `bun:"is_open,notnull"`
	Questions   json.RawMessage `bun:"questions,type:jsonb,notnull"`
	TimerEndsAt *time.Time      `bun:"timer_ends_at"`
	CreatedAt   time.Time       `bun:"created_at,notnull"`
}

func newRoundModel(r domain.Round) (*roundModel, error) {
	questions, err := domain.EncodeQuestions(r.Questions)
	if err != nil {
		return nil, fmt.Errorf("encode questions of round %s: %w", r.ID, err)
	}
	return &roundModel{
		ID:          r.ID,
		GameID:      r.GameID,
		ParentID:    r.ParentID,
		Name:        r.Name,
		Order:       r.Order,
		Open:        r.Open,
		Questions:   questions,
		TimerEndsAt: r.TimerEndsAt,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func (m *roundModel) toDomain() (domain.Round, error) {
	questions, err := domain.DecodeQuestions(m.Questions)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round %s: %w", m.ID, err)
	}
	return domain.Round{
		ID:          m.ID,
		GameID:      m.GameID,
		ParentID:    m.ParentID,
		Name:        m.Name,
		Order:       m.Order,
		Open:        m.Open,
		Questions:   questions,
		TimerEndsAt: m.TimerEndsAt,
		CreatedAt:   m.CreatedAt,
	}, nil
}

type teamModel struct {
	bun.BaseModel `bun:"table:teams,alias:t"`

	ID             string             `bun:"id,pk,type:uuid"`
	GameID         string             `bun:"game_id,notnull,type:uuid"`
	Name           string             `bun:"name,notnull"`
	PasswordHash   string             `bun:"password_hash,notnull"`
	TabAwaySeconds int                `bun:"tab_away_seconds,notnull"`
	TabSwitchCount int                `bun:"tab_switch_count,notnull"`
	LoginCount     int                `bun:"login_count,notnull"`
	LogoutCount    int                `bun:"logout_count,notnull"`
	ManualPenalty  float64            `bun:"manual_penalty,notnull"`
	CustomScores   map[string]float64 `bun:"custom_scores,type:jsonb,notnull"`
	CreatedAt      time.Time          `bun:"created_at,notnull"`
}

func newTeamModel(t domain.Team) *teamModel {
	scores := t.CustomScores
	if scores == nil {
		scores = map[string]float64{}
	}
	return &teamModel{
		ID:             t.ID,
		GameID:         t.GameID,
		Name:           t.Name,
		PasswordHash:   t.PasswordHash,
		TabAwaySeconds: t.TabAwaySeconds,
		TabSwitchCount: t.TabSwitchCount,
		LoginCount:     t.LoginCount,
		LogoutCount:    t.LogoutCount,
		ManualPenalty:  t.ManualPenalty,
		CustomScores:   scores,
		CreatedAt:      t.CreatedAt,
	}
}

func (m *teamModel) toDomain() domain.Team {
	return domain.Team{
		ID:             m.ID,
		GameID:         m.GameID,
		Name:           m.Name,
		PasswordHash:   m.PasswordHash,
		TabAwaySeconds: m.TabAwaySeconds,
		TabSwitchCount: m.TabSwitchCount,
		LoginCount:     m.LoginCount,
		LogoutCount:    m.LogoutCount,
		ManualPenalty:  m.ManualPenalty,
		CustomScores:   m.CustomScores,
		CreatedAt:      m.CreatedAt,
	}
}

type answerModel struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID          string    `bun:"id,pk,type:uuid"`
	TeamID      string    `bun:"team_id,notnull,type:uuid"`
	RoundID     string    `bun:"round_id,notnull,type:uuid"`
	QuestionID  string    `bun:"question_id,notnull"`
	Text        string    `bun:"text,notnull"`
	Points      float64   `bun:"points,notnull"`
	Bonus       float64   `bun:"bonus,notnull"`
	Penalty     float64   `bun:"penalty,notnull"`
	Notes       string    `bun:"notes,notnull"`
	SubmittedAt time.Time `bun:"submitted_at,notnull"`
}

func newAnswerModel(a domain.Answer) answerModel {
	return answerModel{
		ID:          a.ID,
		TeamID:      a.TeamID,
		RoundID:     a.RoundID,
		QuestionID:  a.QuestionID,
		Text:        a.Text,
		Points:      a.Points,
		Bonus:       a.Bonus,
		Penalty:     a.Penalty,
		Notes:       a.Notes,
		SubmittedAt: a.SubmittedAt,
	}
}

func (m *answerModel) toDomain() domain.Answer {
	return domain.Answer{
		ID:          m.ID,
		TeamID:      m.TeamID,
		RoundID:     m.RoundID,
		QuestionID:  m.QuestionID,
		Text:        m.Text,
		Points:      m.Points,
		Bonus:       m.Bonus,
		Penalty:     m.Penalty,
		Notes:       m.Notes,
		SubmittedAt: m.SubmittedAt,
	}
}

type resubmitModel struct {
	bun.BaseModel `bun:"table:resubmit_permissions,alias:rp"`

	TeamID    string    `bun:"team_id,pk,type:uuid"`
	RoundID   string    `bun:"round_id,pk,type:uuid"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func answersToDomain(ms []answerModel) []domain.Answer {
	out := make([]domain.Answer, len(ms))
	for i := range ms {
		out[i] = ms[i].toDomain()
	}
	return out
}
