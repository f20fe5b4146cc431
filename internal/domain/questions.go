package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// QuestionKind tags the grading rule of a question.
type QuestionKind string

const (
	KindText     QuestionKind = "text"
	KindNumber   QuestionKind = "number"
	KindChoice   QuestionKind = "radio"
	KindOrdering QuestionKind = "ordering"
	KindEstimate QuestionKind = "estimate"
	KindBetting  QuestionKind = "betting"
)

// QuestionSchemaVersion is written with every persisted question list.
const QuestionSchemaVersion = 1

// Question is one entry of a round's ordered question list. Exactly one of
// the kind-specific configs is meaningful, selected by Kind.
type Question struct {
	ID      string
	Prompt  string
	Kind    QuestionKind
	Points  float64
	Penalty float64

	Text     *TextConfig
	Number   *NumberConfig
	Choice   *ChoiceConfig
	Ordering *OrderingConfig
	Estimate *EstimateConfig
	Betting  *BettingConfig
}

// TextConfig holds a match expression such as "Paris + Dog | Bird".
type TextConfig struct {
	Validation string
}

// NumberConfig holds an optional scoring formula over the variable answer.
type NumberConfig struct {
	Formula string
}

// ChoiceConfig is a single-choice question.
type ChoiceConfig struct {
	Options []string
	Correct string
}

// OrderingConfig lists items in their correct order.
type OrderingConfig struct {
	Items          []string
	PointsExact    float64
	PointsAdjacent float64
}

// EstimateConfig awards tiered points by relative error to Correct.
type EstimateConfig struct {
	Correct     *float64
	PointsExact float64
	Points10    float64
	Points20    float64
	Points30    float64
}

// BettingConfig describes a wager on a finish order. Results is empty until
// the quiz master settles the question.
type BettingConfig struct {
	Choices     []string
	Places      int
	Multipliers []float64
	MaxBet      int
	Results     []string
}

// Defaults used when a config omits a field.
const (
	DefaultPoints                 = 1.0
	DefaultOrderingPointsExact    = 2.0
	DefaultOrderingPointsAdjacent = 1.0
	DefaultEstimatePointsExact    = 4.0
	DefaultEstimatePoints10       = 3.0
	DefaultEstimatePoints20       = 2.0
	DefaultEstimatePoints30       = 1.0
	DefaultMaxBet                 = 3
	MinBet                        = 1
)

// TextRule returns the text config or an empty one.
func (q Question) TextRule() TextConfig {
	if q.Text != nil {
		return *q.Text
	}
	return TextConfig{}
}

// NumberRule returns the number config or an empty one.
func (q Question) NumberRule() NumberConfig {
	if q.Number != nil {
		return *q.Number
	}
	return NumberConfig{}
}

// ChoiceRule returns the single-choice config or an empty one.
func (q Question) ChoiceRule() ChoiceConfig {
	if q.Choice != nil {
		return *q.Choice
	}
	return ChoiceConfig{}
}

// OrderingRule returns the ordering config, defaulted when absent.
func (q Question) OrderingRule() OrderingConfig {
	if q.Ordering != nil {
		return *q.Ordering
	}
	return OrderingConfig{PointsExact: DefaultOrderingPointsExact, PointsAdjacent: DefaultOrderingPointsAdjacent}
}

// EstimateRule returns the estimate config, defaulted when absent.
func (q Question) EstimateRule() EstimateConfig {
	if q.Estimate != nil {
		return *q.Estimate
	}
	return EstimateConfig{
		PointsExact: DefaultEstimatePointsExact,
		Points10:    DefaultEstimatePoints10,
		Points20:    DefaultEstimatePoints20,
		Points30:    DefaultEstimatePoints30,
	}
}

// BettingRule returns the betting config, defaulted when absent.
func (q Question) BettingRule() BettingConfig {
	if q.Betting != nil {
		return *q.Betting
	}
	return BettingConfig{Places: 1, Multipliers: []float64{1}, MaxBet: DefaultMaxBet}
}

// GradingEqual reports whether a and b grade answers identically. Prompt
// changes do not count.
func GradingEqual(a, b Question) bool {
	ra, err1 := json.Marshal(withoutPrompt(a))
	rb, err2 := json.Marshal(withoutPrompt(b))
	return err1 == nil && err2 == nil && bytes.Equal(ra, rb)
}

func withoutPrompt(q Question) Question {
	q.Prompt = ""
	return q
}

type questionSetWire struct {
	Version   int        `json:"version"`
	Questions []Question `json:"questions"`
}

// EncodeQuestions serializes a question list with its schema version.
func EncodeQuestions(questions []Question) ([]byte, error) {
	if questions == nil {
		questions = []Question{}
	}
	return json.Marshal(questionSetWire{Version: QuestionSchemaVersion, Questions: questions})
}

// DecodeQuestions parses a stored question list. Legacy rows holding a bare
// JSON array are accepted as version 0.
func DecodeQuestions(data []byte) ([]Question, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var qs []Question
		if err := json.Unmarshal(trimmed, &qs); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
		return qs, nil
	}
	var set questionSetWire
	if err := json.Unmarshal(trimmed, &set); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if set.Version > QuestionSchemaVersion {
		return nil, fmt.Errorf("decode questions: unsupported schema version %d", set.Version)
	}
	return set.Questions, nil
}

type questionWire struct {
	ID             string          `json:"id"`
	Text           string          `json:"text,omitempty"`
	Type           QuestionKind    `json:"type"`
	Points         json.RawMessage `json:"points,omitempty"`
	PenaltyPoints  json.RawMessage `json:"penalty_points,omitempty"`
	Validation     string          `json:"validation,omitempty"`
	CorrectAnswer  string          `json:"correct_answer,omitempty"`
	Options        []string        `json:"options,omitempty"`
	Ordering       *orderingWire   `json:"ordering,omitempty"`
	Estimate       *estimateWire   `json:"estimate,omitempty"`
	Betting        *bettingWire    `json:"betting,omitempty"`
	BettingResults []string        `json:"betting_results,omitempty"`
}

type orderingWire struct {
	Items          []string        `json:"items"`
	PointsExact    json.RawMessage `json:"points_exact,omitempty"`
	PointsAdjacent json.RawMessage `json:"points_adjacent,omitempty"`
}

type estimateWire struct {
	CorrectAnswer json.RawMessage `json:"correct_answer,omitempty"`
	PointsExact   json.RawMessage `json:"points_exact,omitempty"`
	Points10      json.RawMessage `json:"points_10,omitempty"`
	Points20      json.RawMessage `json:"points_20,omitempty"`
	Points30      json.RawMessage `json:"points_30,omitempty"`
}

type bettingWire struct {
	Choices     []string          `json:"choices"`
	NumPlaces   json.RawMessage   `json:"num_places,omitempty"`
	Multipliers []json.RawMessage `json:"multipliers,omitempty"`
	MaxBet      json.RawMessage   `json:"max_bet,omitempty"`
}

// UnmarshalJSON parses the persisted question shape and applies defaults.
// Malformed numeric fields fall back to their defaults.
func (q *Question) UnmarshalJSON(data []byte) error {
	var w questionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind := w.Type
	if kind == "" {
		kind = KindText
	}
	*q = Question{
		ID:      w.ID,
		Prompt:  w.Text,
		Kind:    kind,
		Points:  numberOr(w.Points, DefaultPoints),
		Penalty: numberOr(w.PenaltyPoints, 0),
	}

	switch kind {
	case KindText:
		q.Text = &TextConfig{Validation: w.Validation}
	case KindNumber:
		q.Number = &NumberConfig{Formula: w.Validation}
	case KindChoice:
		q.Choice = &ChoiceConfig{Options: w.Options, Correct: w.CorrectAnswer}
	case KindOrdering:
		cfg := q.OrderingRule()
		if w.Ordering != nil {
			cfg.Items = w.Ordering.Items
			cfg.PointsExact = numberOr(w.Ordering.PointsExact, DefaultOrderingPointsExact)
			cfg.PointsAdjacent = numberOr(w.Ordering.PointsAdjacent, DefaultOrderingPointsAdjacent)
		}
		q.Ordering = &cfg
	case KindEstimate:
		cfg := q.EstimateRule()
		if w.Estimate != nil {
			if v, ok := DecodeNumber(w.Estimate.CorrectAnswer); ok {
				cfg.Correct = &v
			}
			cfg.PointsExact = numberOr(w.Estimate.PointsExact, DefaultEstimatePointsExact)
			cfg.Points10 = numberOr(w.Estimate.Points10, DefaultEstimatePoints10)
			cfg.Points20 = numberOr(w.Estimate.Points20, DefaultEstimatePoints20)
			cfg.Points30 = numberOr(w.Estimate.Points30, DefaultEstimatePoints30)
		}
		q.Estimate = &cfg
	case KindBetting:
		cfg := q.BettingRule()
		if w.Betting != nil {
			cfg.Choices = w.Betting.Choices
			cfg.Places = int(numberOr(w.Betting.NumPlaces, 1))
			cfg.MaxBet = int(numberOr(w.Betting.MaxBet, DefaultMaxBet))
			if len(w.Betting.Multipliers) > 0 {
				cfg.Multipliers = make([]float64, len(w.Betting.Multipliers))
				for i, raw := range w.Betting.Multipliers {
					cfg.Multipliers[i] = numberOr(raw, 0)
				}
			}
		}
		cfg.Results = w.BettingResults
		q.Betting = &cfg
	}
	return nil
}

// MarshalJSON writes the persisted question shape.
func (q Question) MarshalJSON() ([]byte, error) {
	w := questionWire{
		ID:            q.ID,
		Text:          q.Prompt,
		Type:          q.Kind,
		Points:        rawNumber(q.Points),
		PenaltyPoints: rawNumber(q.Penalty),
	}
	switch q.Kind {
	case KindText:
		w.Validation = q.TextRule().Validation
	case KindNumber:
		w.Validation = q.NumberRule().Formula
	case KindChoice:
		cfg := q.ChoiceRule()
		w.Options = cfg.Options
		w.CorrectAnswer = cfg.Correct
	case KindOrdering:
		cfg := q.OrderingRule()
		w.Ordering = &orderingWire{
			Items:          cfg.Items,
			PointsExact:    rawNumber(cfg.PointsExact),
			PointsAdjacent: rawNumber(cfg.PointsAdjacent),
		}
	case KindEstimate:
		cfg := q.EstimateRule()
		w.Estimate = &estimateWire{
			PointsExact: rawNumber(cfg.PointsExact),
			Points10:    rawNumber(cfg.Points10),
			Points20:    rawNumber(cfg.Points20),
			Points30:    rawNumber(cfg.Points30),
		}
		if cfg.Correct != nil {
			w.Estimate.CorrectAnswer = rawNumber(*cfg.Correct)
		}
	case KindBetting:
		cfg := q.BettingRule()
		w.Betting = &bettingWire{
			Choices:   cfg.Choices,
			NumPlaces: rawNumber(float64(cfg.Places)),
			MaxBet:    rawNumber(float64(cfg.MaxBet)),
		}
		for _, m := range cfg.Multipliers {
			w.Betting.Multipliers = append(w.Betting.Multipliers, rawNumber(m))
		}
		w.BettingResults = cfg.Results
	}
	return json.Marshal(w)
}

// DecodeNumber reads a JSON number or a numeric string. Anything else,
// including NaN and infinities, reports false.
func DecodeNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	return ParseNumber(s)
}

// ParseNumber parses a finite decimal number, ignoring surrounding space.
func ParseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func numberOr(raw json.RawMessage, fallback float64) float64 {
	if v, ok := DecodeNumber(raw); ok {
		return v
	}
	return fallback
}

func rawNumber(v float64) json.RawMessage {
	return json.RawMessage(strconv.FormatFloat(v, 'g', -1, 64))
}

// Bet is the stored payload of a betting answer.
type Bet struct {
	Amount float64
	Choice string
}

type betWire struct {
	BetAmount json.RawMessage `json:"bet_amount"`
	Choice    *string         `json:"choice"`
}

// EncodeBet serializes a wager the way answers store it.
func EncodeBet(amount int, choice string) string {
	data, _ := json.Marshal(struct {
		BetAmount int    `json:"bet_amount"`
		Choice    string `json:"choice"`
	}{amount, choice})
	return string(data)
}

// ParseBet reads a stored wager. A missing amount counts as zero; a payload
// that is not a JSON object, or an amount that is not numeric, is an error.
func ParseBet(text string) (Bet, error) {
	var w betWire
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return Bet{}, fmt.Errorf("parse bet: %w", err)
	}
	var bet Bet
	if len(w.BetAmount) > 0 && !bytes.Equal(w.BetAmount, []byte("null")) {
		if err := json.Unmarshal(w.BetAmount, &bet.Amount); err != nil {
			return Bet{}, fmt.Errorf("parse bet amount: %w", err)
		}
	}
	if w.Choice != nil {
		bet.Choice = *w.Choice
	}
	return bet, nil
}

// EncodeOrdering serializes an ordering answer.
func EncodeOrdering(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

// ParseOrdering reads an ordering answer; malformed text yields no items.
func ParseOrdering(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil
	}
	return items
}
