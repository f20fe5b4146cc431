package scoring_test

import (
	"testing"

	"quizmaster/internal/scoring"
)

func TestEvalFormula(t *testing.T) {
	vars := map[string]float64{"answer": 10, "q2": 4}
	cases := []struct {
		src  string
		want float64
	}{
		{"answer * 4", 40},
		{"answer / 2 + 10", 15},
		{"-answer + 3", -7},
		{"(answer - q2) * 2", 12},
		{"abs(q2 - answer)", 6},
		{"min(answer, q2, 1)", 1},
		{"max(answer, q2)", 10},
		{"round(answer / 4)", 2},
		{"round(answer / 3, 2)", 3.33},
		{"1.5e1", 15},
	}
	for _, tc := range cases {
		got, err := scoring.EvalFormula(tc.src, vars)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.src, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.src, tc.want, got)
		}
	}
}

func TestEvalFormulaErrors(t *testing.T) {
	vars := map[string]float64{"answer": 1}
	for _, src := range []string{
		"",
		"answer +",
		"(answer",
		"answer / 0",
		"unknown * 2",
		"pow(answer, 2)",
		"abs(1, 2)",
		"min(answer)",
		"answer.real",
		"__class__",
		"exec(1)",
		"answer; 1",
	} {
		if _, err := scoring.EvalFormula(src, vars); err == nil {
			t.Fatalf("%q: expected an error", src)
		}
	}
}

func TestEvalFormulaRejectsDeepNesting(t *testing.T) {
	src := ""
	for i := 0; i < 100; i++ {
		src += "("
	}
	src += "1"
	for i := 0; i < 100; i++ {
		src += ")"
	}
	if _, err := scoring.EvalFormula(src, nil); err == nil {
		t.Fatalf("expected nesting limit error")
	}
}
