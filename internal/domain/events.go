package domain

// EventType names a state change pushed to connected viewers.
type EventType string

const (
	EventRoundStatusChanged EventType = "round_status_changed"
	EventRoundsReordered    EventType = "rounds_reordered"
	EventScoreUpdated       EventType = "score_updated"
	EventAnswerScoreUpdated EventType = "answer_score_updated"
	EventColumnsUpdated     EventType = "columns_updated"
	EventSubmissionUpdate   EventType = "submission_update"
	EventSubmissionCleared  EventType = "submission_cleared"
	EventTabTimeUpdated     EventType = "tab_time_updated"
	EventTabSwitchUpdated   EventType = "tab_switch_updated"
	EventTabPenaltyUpdated  EventType = "tab_penalty_updated"
	EventTabTrackingChanged EventType = "tab_penalty_tracking_changed"
	EventGamePauseChanged   EventType = "game_pause_changed"
	EventGameFinished       EventType = "game_finished"
	EventGameUnfinished     EventType = "game_unfinished"
	EventGameFinalising     EventType = "game_finalising"
	EventTeamUpdated        EventType = "team_updated"
	EventTeamDeleted        EventType = "team_deleted"
	EventBettingResultsSet  EventType = "betting_results_set"
	EventTimerStarted       EventType = "timer_started"
	EventTimerStopped       EventType = "timer_stopped"
)

// Audience limits which connected viewers receive an event.
type Audience string

const (
	AudienceAll   Audience = ""
	AudienceAdmin Audience = "admin"
)

// Event carries enough keys for a subscriber to re-fetch or patch its view.
type Event struct {
	Type       EventType      `json:"type"`
	Audience   Audience       `json:"audience,omitempty"`
	GameID     string         `json:"gameId"`
	RoundID    string         `json:"roundId,omitempty"`
	QuestionID string         `json:"questionId,omitempty"`
	TeamID     string         `json:"teamId,omitempty"`
	AnswerID   string         `json:"answerId,omitempty"`
	Points     *float64       `json:"points,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Float returns a pointer to v for optional event values.
func Float(v float64) *float64 {
	return &v
}
