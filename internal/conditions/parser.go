package conditions

import (
	"fmt"
	"strconv"

	"github.com/rendis/flowcore/pkg/schema"
)

// node is an AST node produced by the recursive-descent parser.
// Values at evaluation time are float64, string, bool, or nil.
type node interface {
	eval() (any, error)
}

type literalNode struct {
	value any
}

func (n *literalNode) eval() (any, error) { return n.value, nil }

type notNode struct {
	operand node
}

func (n *notNode) eval() (any, error) {
	v, err := n.operand.eval()
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type logicalNode struct {
	op          string // "&&" or "||"
	left, right node
}

func (n *logicalNode) eval() (any, error) {
	left, err := n.left.eval()
	if err != nil {
		return nil, err
	}
	// Short-circuit with JavaScript semantics: the operand value itself is
	// the result, not a coerced bool.
	if n.op == "&&" {
		if !truthy(left) {
			return left, nil
		}
		return n.right.eval()
	}
	if truthy(left) {
		return left, nil
	}
	return n.right.eval()
}

type comparisonNode struct {
	op          string
	left, right node
}

func (n *comparisonNode) eval() (any, error) {
	left, err := n.left.eval()
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval()
	if err != nil {
		return nil, err
	}
	return compare(n.op, left, right)
}

// parser is a recursive-descent parser over the fixed grammar:
//
//	expr       := or
//	or         := and ( "||" and )*
//	and        := unary ( "&&" unary )*
//	unary      := "!" unary | comparison
//	comparison := primary ( cmpOp primary )?
//	primary    := literal | "(" expr ")"
type parser struct {
	tokens   []token
	pos      int
	original string
}

// parse builds an AST from the token stream.
func parse(tokens []token, original string) (node, *schema.FlowError) {
	p := &parser{tokens: tokens, original: original}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, evalError(original, "unexpected token %q", p.tokens[p.pos].text)
	}
	return n, nil
}

func (p *parser) parseOr() (node, *schema.FlowError) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekOp("||") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, *schema.FlowError) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peekOp("&&") {
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, *schema.FlowError) {
	if p.peekOp("!") {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{
	"===": true, "!==": true, "==": true, "!=": true,
	">": true, "<": true, ">=": true, "<=": true,
	"contains": true,
}

func (p *parser) parseComparison() (node, *schema.FlowError) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) && p.tokens[p.pos].kind == tokOp && comparisonOps[p.tokens[p.pos].text] {
		op := p.tokens[p.pos].text
		p.pos++
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &comparisonNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, *schema.FlowError) {
	if p.pos >= len(p.tokens) {
		return nil, evalError(p.original, "unexpected end of expression")
	}

	tok := p.tokens[p.pos]
	switch tok.kind {
	case tokNumber:
		p.pos++
		return &literalNode{value: tok.num}, nil
	case tokString:
		p.pos++
		return &literalNode{value: tok.str}, nil
	case tokTrue:
		p.pos++
		return &literalNode{value: true}, nil
	case tokFalse:
		p.pos++
		return &literalNode{value: false}, nil
	case tokNull:
		p.pos++
		return &literalNode{value: nil}, nil
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokRParen {
			return nil, evalError(p.original, "missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	default:
		return nil, evalError(p.original, "unexpected token %q", tok.text)
	}
}

func (p *parser) peekOp(op string) bool {
	return p.pos < len(p.tokens) && p.tokens[p.pos].kind == tokOp && p.tokens[p.pos].text == op
}

// --- operator semantics ---

// truthy applies JavaScript truthiness: false, 0, "", and null are falsy.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}

// compare applies one comparison operator with JavaScript semantics:
// === / !== are strict (type and value), == / != coerce numerically across
// types, and the relational operators compare numbers (or two strings
// lexicographically).
func compare(op string, left, right any) (any, error) {
	switch op {
	case "===":
		return strictEqual(left, right), nil
	case "!==":
		return !strictEqual(left, right), nil
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case ">", "<", ">=", "<=":
		return relational(op, left, right), nil
	case "contains":
		return stringsContains(containsText(left), containsText(right)), nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

// containsText renders a contains operand as text. Strings are used as-is;
// other value types get the same inline rendering interpolation gives them,
// so `{{count}} contains "4"` does a substring check on the decimal form.
func containsText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func strictEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	switch l := left.(type) {
	case float64:
		r, ok := right.(float64)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	default:
		return false
	}
}

func looseEqual(left, right any) bool {
	// Same type: strict comparison.
	if sameType(left, right) {
		return strictEqual(left, right)
	}
	// null only loosely equals null (and undefined, which the grammar
	// cannot produce).
	if left == nil || right == nil {
		return false
	}
	// Mixed scalar types coerce to number.
	ln, lok := toNumber(left)
	rn, rok := toNumber(right)
	return lok && rok && ln == rn
}

func relational(op string, left, right any) bool {
	// Two strings compare lexicographically.
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			switch op {
			case ">":
				return ls > rs
			case "<":
				return ls < rs
			case ">=":
				return ls >= rs
			default:
				return ls <= rs
			}
		}
	}

	ln, lok := toNumber(left)
	rn, rok := toNumber(right)
	if !lok || !rok {
		return false
	}
	switch op {
	case ">":
		return ln > rn
	case "<":
		return ln < rn
	case ">=":
		return ln >= rn
	default:
		return ln <= rn
	}
}

func sameType(left, right any) bool {
	switch left.(type) {
	case nil:
		return right == nil
	case float64:
		_, ok := right.(float64)
		return ok
	case string:
		_, ok := right.(string)
		return ok
	case bool:
		_, ok := right.(bool)
		return ok
	default:
		return false
	}
}

// toNumber applies JavaScript ToNumber to the grammar's value types.
func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case nil:
		return 0, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case float64:
		return val, true
	case string:
		return parseNumericString(val)
	default:
		return 0, false
	}
}
