// Package scoring turns submitted answers into points. Every function here is
// pure: persistence and broadcasting belong to the caller.
package scoring

import (
	"math"
	"strings"

	"quizmaster/internal/domain"
)

// Grade returns the points earned by submitted for q. siblings holds the
// raw values submitted for the other questions of the same round, keyed by
// question id; number formulas may read them.
func Grade(q domain.Question, submitted string, siblings map[string]string) float64 {
	switch q.Kind {
	case domain.KindText:
		return gradeText(q, submitted)
	case domain.KindNumber:
		return gradeNumber(q, submitted, siblings)
	case domain.KindChoice:
		return gradeChoice(q, submitted)
	case domain.KindEstimate:
		return gradeEstimate(q, submitted)
	case domain.KindOrdering:
		return gradeOrdering(q, submitted)
	case domain.KindBetting:
		return gradeBetting(q, submitted)
	default:
		return 0
	}
}

// Normalize rewrites a raw submission into the form stored on the answer.
// Bets are clamped and re-encoded; orderings are re-encoded; everything else
// is trimmed.
func Normalize(q domain.Question, raw string) string {
	switch q.Kind {
	case domain.KindBetting:
		bet, err := domain.ParseBet(raw)
		if err != nil {
			return domain.EncodeBet(domain.MinBet, "")
		}
		return domain.EncodeBet(ClampBet(bet.Amount, q.BettingRule().MaxBet), strings.TrimSpace(bet.Choice))
	case domain.KindOrdering:
		items := domain.ParseOrdering(raw)
		if items == nil {
			return strings.TrimSpace(raw)
		}
		return domain.EncodeOrdering(items)
	default:
		return strings.TrimSpace(raw)
	}
}

// ClampBet limits a wager to [MinBet, maxBet]. A stake that is not a whole
// number is not a valid wager and counts as MinBet. A non-positive maxBet
// falls back to the default ceiling.
func ClampBet(amount float64, maxBet int) int {
	if maxBet < domain.MinBet {
		maxBet = domain.DefaultMaxBet
	}
	if math.IsNaN(amount) || amount != math.Trunc(amount) || amount < domain.MinBet {
		return domain.MinBet
	}
	if amount > float64(maxBet) {
		return maxBet
	}
	return int(amount)
}

func wrongAnswer(q domain.Question, submitted string) float64 {
	if strings.TrimSpace(submitted) != "" && q.Penalty != 0 {
		return -math.Abs(q.Penalty)
	}
	return 0
}

func gradeText(q domain.Question, submitted string) float64 {
	if strings.TrimSpace(submitted) == "" {
		return 0
	}
	if MatchValidation(submitted, q.TextRule().Validation) {
		return q.Points
	}
	return wrongAnswer(q, submitted)
}

func gradeNumber(q domain.Question, submitted string, siblings map[string]string) float64 {
	formula := strings.TrimSpace(q.NumberRule().Formula)
	if formula == "" {
		if _, ok := domain.ParseNumber(submitted); ok {
			return q.Points
		}
		return wrongAnswer(q, submitted)
	}
	answer, ok := domain.ParseNumber(submitted)
	if !ok {
		return 0
	}
	vars := make(map[string]float64, len(siblings)+1)
	for id, raw := range siblings {
		if v, ok := domain.ParseNumber(raw); ok {
			vars[id] = v
		}
	}
	vars[AnswerVariable] = answer
	points, err := EvalFormula(formula, vars)
	if err != nil {
		return 0
	}
	return points
}

func gradeChoice(q domain.Question, submitted string) float64 {
	got := strings.ToLower(strings.TrimSpace(submitted))
	if got == "" {
		return 0
	}
	if got == strings.ToLower(strings.TrimSpace(q.ChoiceRule().Correct)) {
		return q.Points
	}
	return wrongAnswer(q, submitted)
}

func gradeEstimate(q domain.Question, submitted string) float64 {
	cfg := q.EstimateRule()
	if cfg.Correct == nil {
		return 0
	}
	guess, ok := domain.ParseNumber(submitted)
	if !ok {
		return 0
	}
	correct := *cfg.Correct
	if correct == 0 {
		if guess == 0 {
			return cfg.PointsExact
		}
		return 0
	}
	diff := math.Abs(guess-correct) / math.Abs(correct)
	switch {
	case diff == 0:
		return cfg.PointsExact
	case diff <= 0.10:
		return cfg.Points10
	case diff <= 0.20:
		return cfg.Points20
	case diff <= 0.30:
		return cfg.Points30
	default:
		return 0
	}
}

// SlotStatus classifies one position of an ordering answer.
type SlotStatus string

const (
	SlotCorrect  SlotStatus = "correct"
	SlotAdjacent SlotStatus = "adjacent"
	SlotWrong    SlotStatus = "wrong"
)

// Slot is one submitted position of an ordering answer.
type Slot struct {
	Item   string     `json:"item"`
	Status SlotStatus `json:"status"`
}

// OrderingSlots classifies each submitted position against the correct
// order. An item repeated in the correct list is judged by its first index.
func OrderingSlots(q domain.Question, submitted string) []Slot {
	cfg := q.OrderingRule()
	items := domain.ParseOrdering(submitted)
	correctIndex := make(map[string]int, len(cfg.Items))
	for i, item := range cfg.Items {
		if _, seen := correctIndex[item]; !seen {
			correctIndex[item] = i
		}
	}
	slots := make([]Slot, len(items))
	for pos, item := range items {
		slots[pos] = Slot{Item: item, Status: SlotWrong}
		want, ok := correctIndex[item]
		if !ok {
			continue
		}
		switch pos - want {
		case 0:
			slots[pos].Status = SlotCorrect
		case 1, -1:
			slots[pos].Status = SlotAdjacent
		}
	}
	return slots
}

func gradeOrdering(q domain.Question, submitted string) float64 {
	cfg := q.OrderingRule()
	if len(cfg.Items) == 0 {
		return 0
	}
	var total float64
	for _, s := range OrderingSlots(q, submitted) {
		switch s.Status {
		case SlotCorrect:
			total += cfg.PointsExact
		case SlotAdjacent:
			total += cfg.PointsAdjacent
		}
	}
	return total
}

func gradeBetting(q domain.Question, submitted string) float64 {
	bet, err := domain.ParseBet(submitted)
	if err != nil {
		return -domain.MinBet
	}
	cfg := q.BettingRule()
	stake := ClampBet(bet.Amount, cfg.MaxBet)
	if len(cfg.Results) > 0 {
		return settledPoints(cfg, float64(stake), strings.TrimSpace(bet.Choice))
	}
	return -float64(stake)
}
