package scoring_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"quizmaster/internal/domain"
	"quizmaster/internal/scoring"
)

func textQuestion(id, validation string, points, penalty float64) domain.Question {
	return domain.Question{
		ID:      id,
		Kind:    domain.KindText,
		Points:  points,
		Penalty: penalty,
		Text:    &domain.TextConfig{Validation: validation},
	}
}

func TestGradeText(t *testing.T) {
	q := textQuestion("q1", "Paris + Dog | Paris + Cat | Bird", 2, 1)

	cases := []struct {
		answer string
		want   float64
	}{
		{"Bird", 2},
		{"paris dog", 2},
		{"A CAT in PARIS", 2},
		{"Paris", -1},
		{"London", -1},
		{"", 0},
		{"   ", 0},
	}
	for _, tc := range cases {
		if got := scoring.Grade(q, tc.answer, nil); got != tc.want {
			t.Fatalf("answer %q: expected %v, got %v", tc.answer, tc.want, got)
		}
	}
}

func TestGradeTextWithoutPenalty(t *testing.T) {
	q := textQuestion("q1", "Bird", 1, 0)
	if got := scoring.Grade(q, "Fish", nil); got != 0 {
		t.Fatalf("expected 0 without penalty, got %v", got)
	}
}

func TestGradeTextBlankValidationAcceptsAnything(t *testing.T) {
	q := textQuestion("q1", "", 3, 1)
	if got := scoring.Grade(q, "whatever", nil); got != 3 {
		t.Fatalf("expected full points, got %v", got)
	}
	if got := scoring.Grade(q, "", nil); got != 0 {
		t.Fatalf("blank submission must not earn points, got %v", got)
	}
}

func TestGradeTextRegexTerms(t *testing.T) {
	q := textQuestion("q1", "^colou?r$", 1, 0)
	if got := scoring.Grade(q, "Color", nil); got != 1 {
		t.Fatalf("expected regex match, got %v", got)
	}
	if got := scoring.Grade(q, "colours", nil); got != 0 {
		t.Fatalf("expected anchored regex to reject, got %v", got)
	}

	// An invalid regex still matches as literal text.
	literal := textQuestion("q2", "(unclosed", 1, 0)
	if got := scoring.Grade(literal, "an (UNCLOSED paren", nil); got != 1 {
		t.Fatalf("expected literal fallback match, got %v", got)
	}
}

func TestGradeNumber(t *testing.T) {
	plain := domain.Question{ID: "n1", Kind: domain.KindNumber, Points: 2, Penalty: 1, Number: &domain.NumberConfig{}}
	if got := scoring.Grade(plain, " 42 ", nil); got != 2 {
		t.Fatalf("expected base points for a number, got %v", got)
	}
	if got := scoring.Grade(plain, "forty", nil); got != -1 {
		t.Fatalf("expected penalty for non-number, got %v", got)
	}
	if got := scoring.Grade(plain, "", nil); got != 0 {
		t.Fatalf("expected 0 for blank, got %v", got)
	}

	formula := domain.Question{ID: "n2", Kind: domain.KindNumber, Points: 1, Number: &domain.NumberConfig{Formula: "answer / 2 + 10"}}
	if got := scoring.Grade(formula, "20", nil); got != 20 {
		t.Fatalf("expected 20, got %v", got)
	}
	if got := scoring.Grade(formula, "abc", nil); got != 0 {
		t.Fatalf("expected 0 for non-numeric answer with formula, got %v", got)
	}
}

func TestGradeNumberReadsSiblings(t *testing.T) {
	q := domain.Question{ID: "n1", Kind: domain.KindNumber, Points: 1, Number: &domain.NumberConfig{Formula: "max(answer, q2) - min(answer, q2)"}}
	siblings := map[string]string{"q2": "7", "q3": "not a number"}
	if got := scoring.Grade(q, "10", siblings); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestGradeNumberRejectsDangerousFormula(t *testing.T) {
	for _, f := range []string{"__import__('os')", "eval(answer)", "open(answer)", "answer / 0", "answer +"} {
		q := domain.Question{ID: "n1", Kind: domain.KindNumber, Points: 1, Number: &domain.NumberConfig{Formula: f}}
		if got := scoring.Grade(q, "5", nil); got != 0 {
			t.Fatalf("formula %q: expected 0, got %v", f, got)
		}
	}
}

func TestGradeChoice(t *testing.T) {
	q := domain.Question{ID: "c1", Kind: domain.KindChoice, Points: 1, Penalty: 0.5, Choice: &domain.ChoiceConfig{Options: []string{"Red", "Blue"}, Correct: "Blue"}}
	if got := scoring.Grade(q, "  blue ", nil); got != 1 {
		t.Fatalf("expected match, got %v", got)
	}
	if got := scoring.Grade(q, "Red", nil); got != -0.5 {
		t.Fatalf("expected penalty, got %v", got)
	}
	if got := scoring.Grade(q, "", nil); got != 0 {
		t.Fatalf("expected 0 for blank, got %v", got)
	}
}

func estimateQuestion(correct float64) domain.Question {
	return domain.Question{
		ID:   "e1",
		Kind: domain.KindEstimate,
		Estimate: &domain.EstimateConfig{
			Correct:     &correct,
			PointsExact: 4,
			Points10:    3,
			Points20:    2,
			Points30:    1,
		},
	}
}

func TestGradeEstimateTiers(t *testing.T) {
	q := estimateQuestion(100)
	cases := []struct {
		answer string
		want   float64
	}{
		{"100", 4},
		{"110", 3},
		{"90", 3},
		{"115", 2},
		{"80", 2},
		{"130", 1},
		{"135", 0},
		{"", 0},
		{"lots", 0},
	}
	for _, tc := range cases {
		if got := scoring.Grade(q, tc.answer, nil); got != tc.want {
			t.Fatalf("answer %q: expected %v, got %v", tc.answer, tc.want, got)
		}
	}
}

func TestGradeEstimateZeroCorrect(t *testing.T) {
	q := estimateQuestion(0)
	if got := scoring.Grade(q, "0", nil); got != 4 {
		t.Fatalf("expected exact points, got %v", got)
	}
	if got := scoring.Grade(q, "0.01", nil); got != 0 {
		t.Fatalf("expected 0 for near-zero, got %v", got)
	}

	missing := domain.Question{ID: "e2", Kind: domain.KindEstimate}
	if got := scoring.Grade(missing, "10", nil); got != 0 {
		t.Fatalf("expected 0 without a correct value, got %v", got)
	}
}

func TestGradeOrdering(t *testing.T) {
	q := domain.Question{
		ID:   "o1",
		Kind: domain.KindOrdering,
		Ordering: &domain.OrderingConfig{
			Items:          []string{"A", "B", "C"},
			PointsExact:    2,
			PointsAdjacent: 1,
		},
	}
	cases := []struct {
		order []string
		want  float64
	}{
		{[]string{"A", "B", "C"}, 6},
		{[]string{"A", "C", "B"}, 4},
		{[]string{"C", "A", "B"}, 2},
		{[]string{"X", "Y", "Z"}, 0},
	}
	for _, tc := range cases {
		if got := scoring.Grade(q, domain.EncodeOrdering(tc.order), nil); got != tc.want {
			t.Fatalf("order %v: expected %v, got %v", tc.order, tc.want, got)
		}
	}
	if got := scoring.Grade(q, "not json", nil); got != 0 {
		t.Fatalf("expected 0 for malformed ordering, got %v", got)
	}
}

func TestOrderingSlots(t *testing.T) {
	q := domain.Question{
		ID:       "o1",
		Kind:     domain.KindOrdering,
		Ordering: &domain.OrderingConfig{Items: []string{"A", "B", "C", "D"}},
	}
	got := scoring.OrderingSlots(q, domain.EncodeOrdering([]string{"A", "C", "B", "X"}))
	want := []scoring.Slot{
		{Item: "A", Status: scoring.SlotCorrect},
		{Item: "C", Status: scoring.SlotAdjacent},
		{Item: "B", Status: scoring.SlotAdjacent},
		{Item: "X", Status: scoring.SlotWrong},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
}

func bettingQuestion() domain.Question {
	return domain.Question{
		ID:   "b1",
		Kind: domain.KindBetting,
		Betting: &domain.BettingConfig{
			Choices:     []string{"Fox", "Hare", "Owl"},
			Places:      3,
			Multipliers: []float64{3, 2, 1},
			MaxBet:      3,
		},
	}
}

func TestGradeBettingDeductsClampedStake(t *testing.T) {
	q := bettingQuestion()
	cases := []struct {
		amount int
		want   float64
	}{
		{2, -2},
		{10, -3},
		{0, -1},
		{-4, -1},
	}
	for _, tc := range cases {
		if got := scoring.Grade(q, domain.EncodeBet(tc.amount, "Fox"), nil); got != tc.want {
			t.Fatalf("amount %d: expected %v, got %v", tc.amount, tc.want, got)
		}
	}
}

func TestNormalizeBet(t *testing.T) {
	q := bettingQuestion()
	if got := scoring.Normalize(q, `{"bet_amount": 9, "choice": " Fox "}`); got != domain.EncodeBet(3, "Fox") {
		t.Fatalf("unexpected normalized bet %s", got)
	}
	if got := scoring.Normalize(q, "garbage"); got != domain.EncodeBet(1, "") {
		t.Fatalf("unexpected normalized garbage bet %s", got)
	}
}

func TestClampBetBounds(t *testing.T) {
	for amount := -5.0; amount <= 10; amount += 0.5 {
		got := scoring.ClampBet(amount, 3)
		if got < domain.MinBet || got > 3 {
			t.Fatalf("amount %v clamped out of range: %d", amount, got)
		}
	}
	if got := scoring.ClampBet(5, 0); got != domain.DefaultMaxBet {
		t.Fatalf("expected default ceiling, got %d", got)
	}
}

func TestClampBetFractionalStake(t *testing.T) {
	tests := []struct {
		amount float64
		want   int
	}{
		{amount: 2, want: 2},
		{amount: 2.7, want: domain.MinBet},
		{amount: 9.5, want: domain.MinBet},
		{amount: 9, want: 3},
	}
	for _, tt := range tests {
		if got := scoring.ClampBet(tt.amount, 3); got != tt.want {
			t.Fatalf("ClampBet(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}

	if got := scoring.Normalize(bettingQuestion(), `{"bet_amount": 2.7, "choice": "Fox"}`); got != domain.EncodeBet(domain.MinBet, "Fox") {
		t.Fatalf("expected a fractional stake to fall back to the minimum, got %s", got)
	}
}
