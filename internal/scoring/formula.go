package scoring

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// AnswerVariable is the name a formula uses for the submitted value.
const AnswerVariable = "answer"

const (
	maxFormulaLength = 512
	maxFormulaDepth  = 32
)

var (
	errFormulaSyntax   = errors.New("formula syntax error")
	errFormulaDenied   = errors.New("formula contains a forbidden token")
	errUnknownName     = errors.New("unknown name in formula")
	errDivisionByZero  = errors.New("division by zero")
	errBadArity        = errors.New("wrong number of function arguments")
	errNonFiniteResult = errors.New("formula result is not finite")
)

// deniedTokens are rejected before parsing even though the grammar could
// never execute them.
var deniedTokens = []string{"import", "exec", "eval", "open", "file", "__"}

// Formula is a parsed arithmetic expression over +, -, *, /, parentheses,
// numeric literals, variables and the functions abs, min, max and round.
type Formula struct {
	root formulaNode
}

// ParseFormula parses src. It never evaluates anything.
func ParseFormula(src string) (*Formula, error) {
	if len(src) > maxFormulaLength {
		return nil, fmt.Errorf("%w: expression too long", errFormulaSyntax)
	}
	lower := strings.ToLower(src)
	for _, token := range deniedTokens {
		if strings.Contains(lower, token) {
			return nil, errFormulaDenied
		}
	}
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &formulaParser{tokens: tokens}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q", errFormulaSyntax, p.peek().text)
	}
	return &Formula{root: root}, nil
}

// Eval evaluates the formula with the given variable bindings.
func (f *Formula) Eval(vars map[string]float64) (float64, error) {
	v, err := f.root.eval(vars)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNonFiniteResult
	}
	return v, nil
}

// EvalFormula parses and evaluates src in one step.
func EvalFormula(src string, vars map[string]float64) (float64, error) {
	f, err := ParseFormula(src)
	if err != nil {
		return 0, err
	}
	return f.Eval(vars)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind  tokenKind
	text  string
	value float64
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '+' || r == '-' || r == '*' || r == '/':
			tokens = append(tokens, token{kind: tokOp, text: string(r)})
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ","})
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					for j < len(runes) && unicode.IsDigit(runes[j]) {
						j++
					}
					i = j
				}
			}
			text := string(runes[start:i])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", errFormulaSyntax, text)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, value: v})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i])})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", errFormulaSyntax, r)
		}
	}
	return append(tokens, token{kind: tokEOF}), nil
}

type formulaParser struct {
	tokens []token
	pos    int
}

func (p *formulaParser) peek() token {
	return p.tokens[p.pos]
}

func (p *formulaParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// expr := term (("+" | "-") term)*
func (p *formulaParser) parseExpr(depth int) (formulaNode, error) {
	if depth > maxFormulaDepth {
		return nil, fmt.Errorf("%w: nesting too deep", errFormulaSyntax)
	}
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.text[0], left: left, right: right}
	}
}

// term := unary (("*" | "/") unary)*
func (p *formulaParser) parseTerm(depth int) (formulaNode, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.text[0], left: left, right: right}
	}
}

// unary := ("+" | "-") unary | primary
func (p *formulaParser) parseUnary(depth int) (formulaNode, error) {
	if depth > maxFormulaDepth {
		return nil, fmt.Errorf("%w: nesting too deep", errFormulaSyntax)
	}
	t := p.peek()
	if t.kind == tokOp && (t.text == "+" || t.text == "-") {
		p.next()
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		if t.text == "-" {
			return negateNode{operand: operand}, nil
		}
		return operand, nil
	}
	return p.parsePrimary(depth)
}

// primary := number | name | name "(" args ")" | "(" expr ")"
func (p *formulaParser) parsePrimary(depth int) (formulaNode, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numberNode(t.value), nil
	case tokLParen:
		inner, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("%w: missing )", errFormulaSyntax)
		}
		return inner, nil
	case tokIdent:
		if p.peek().kind != tokLParen {
			return varNode(t.text), nil
		}
		p.next()
		fn, ok := formulaFuncs[t.text]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errUnknownName, t.text)
		}
		var args []formulaNode
		if p.peek().kind != tokRParen {
			for {
				arg, err := p.parseExpr(depth + 1)
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("%w: missing )", errFormulaSyntax)
		}
		if len(args) < fn.minArgs || (fn.maxArgs > 0 && len(args) > fn.maxArgs) {
			return nil, fmt.Errorf("%w: %s", errBadArity, t.text)
		}
		return callNode{fn: fn, args: args}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q", errFormulaSyntax, t.text)
	}
}

type formulaNode interface {
	eval(vars map[string]float64) (float64, error)
}

type numberNode float64

func (n numberNode) eval(map[string]float64) (float64, error) { return float64(n), nil }

type varNode string

func (n varNode) eval(vars map[string]float64) (float64, error) {
	v, ok := vars[string(n)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errUnknownName, string(n))
	}
	return v, nil
}

type negateNode struct {
	operand formulaNode
}

func (n negateNode) eval(vars map[string]float64) (float64, error) {
	v, err := n.operand.eval(vars)
	return -v, err
}

type binaryNode struct {
	op          byte
	left, right formulaNode
}

func (n binaryNode) eval(vars map[string]float64) (float64, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	default:
		if r == 0 {
			return 0, errDivisionByZero
		}
		return l / r, nil
	}
}

type formulaFunc struct {
	minArgs, maxArgs int // maxArgs 0 means variadic
	apply            func(args []float64) (float64, error)
}

var formulaFuncs = map[string]formulaFunc{
	"abs": {minArgs: 1, maxArgs: 1, apply: func(a []float64) (float64, error) {
		return math.Abs(a[0]), nil
	}},
	"min": {minArgs: 2, apply: func(a []float64) (float64, error) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	}},
	"max": {minArgs: 2, apply: func(a []float64) (float64, error) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	}},
	"round": {minArgs: 1, maxArgs: 2, apply: func(a []float64) (float64, error) {
		if len(a) == 1 {
			return math.RoundToEven(a[0]), nil
		}
		digits := a[1]
		if digits != math.Trunc(digits) || math.Abs(digits) > 15 {
			return 0, fmt.Errorf("%w: round digits must be a small integer", errBadArity)
		}
		scale := math.Pow(10, digits)
		return math.RoundToEven(a[0]*scale) / scale, nil
	}},
}

type callNode struct {
	fn   formulaFunc
	args []formulaNode
}

func (n callNode) eval(vars map[string]float64) (float64, error) {
	values := make([]float64, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(vars)
		if err != nil {
			return 0, err
		}
		values[i] = v
	}
	return n.fn.apply(values)
}
