package scoring

import (
	"strings"

	"quizmaster/internal/domain"
)

// Dedup zeroes repeated free-text answers within one round. Questions are
// walked in order; the first positive answer for a normalized text keeps its
// points and later positive repeats drop to zero. Answers that already score
// zero or less are neither changed nor remembered. The returned ids are the
// answers that were zeroed.
func Dedup(questions []domain.Question, answers []domain.Answer) ([]domain.Answer, []string) {
	out := make([]domain.Answer, len(answers))
	copy(out, answers)

	byQuestion := make(map[string]int, len(out))
	for i, a := range out {
		byQuestion[a.QuestionID] = i
	}

	var zeroed []string
	seen := make(map[string]struct{})
	for _, q := range questions {
		if q.Kind != domain.KindText {
			continue
		}
		i, ok := byQuestion[q.ID]
		if !ok {
			continue
		}
		a := &out[i]
		text := strings.ToLower(strings.TrimSpace(a.Text))
		if text == "" || a.Points <= 0 {
			continue
		}
		if _, dup := seen[text]; dup {
			a.Points = 0
			zeroed = append(zeroed, a.ID)
			continue
		}
		seen[text] = struct{}{}
	}
	return out, zeroed
}
