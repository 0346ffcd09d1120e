package conditions

import (
	"strconv"
	"strings"

	"github.com/rendis/flowcore/pkg/schema"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokTrue
	tokFalse
	tokNull
	tokLParen
	tokRParen
	tokOp // comparison/logical operator, including "contains"
)

type token struct {
	kind tokenKind
	text string  // operator text or raw literal text
	num  float64 // valid for tokNumber
	str  string  // decoded value for tokString
}

// operators ordered longest-first so multi-character operators win.
var operators = []string{"===", "!==", "==", "!=", ">=", "<=", "&&", "||", ">", "<", "!"}

// tokenize splits the interpolated expression into tokens. Every token must
// be an allowed operator, parenthesis, numeric literal, quoted string, or
// one of true/false/null (plus the contains keyword operator). Anything
// else, in particular any bare identifier, fails validation.
func tokenize(input, original string) ([]token, *schema.FlowError) {
	var tokens []token

	i := 0
	for i < len(input) {
		c := input[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++

		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++

		case c == '\'' || c == '"':
			str, next, ok := scanString(input, i)
			if !ok {
				return nil, evalError(original, "unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokString, str: str})
			i = next

		case c >= '0' && c <= '9' || (c == '-' && i+1 < len(input) && input[i+1] >= '0' && input[i+1] <= '9' && numberCanStart(tokens)):
			text, next := scanNumber(input, i)
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, evalError(original, "invalid numeric literal %q", text)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: num})
			i = next

		case isWordChar(c):
			j := i
			for j < len(input) && isWordChar(input[j]) {
				j++
			}
			word := input[i:j]
			switch word {
			case "true":
				tokens = append(tokens, token{kind: tokTrue, text: word})
			case "false":
				tokens = append(tokens, token{kind: tokFalse, text: word})
			case "null":
				tokens = append(tokens, token{kind: tokNull, text: word})
			case "contains":
				tokens = append(tokens, token{kind: tokOp, text: word})
			default:
				return nil, evalError(original, "disallowed token %q", word)
			}
			i = j

		default:
			op, ok := matchOperator(input[i:])
			if !ok {
				return nil, evalError(original, "disallowed token %q", string(c))
			}
			tokens = append(tokens, token{kind: tokOp, text: op})
			i += len(op)
		}
	}

	return tokens, nil
}

// numberCanStart reports whether a leading '-' belongs to a numeric literal,
// which is only the case at expression start, after an operator, or after an
// opening parenthesis. The grammar has no arithmetic, so '-' is never a
// binary operator.
func numberCanStart(tokens []token) bool {
	if len(tokens) == 0 {
		return true
	}
	last := tokens[len(tokens)-1]
	return last.kind == tokOp || last.kind == tokLParen
}

func scanString(input string, start int) (value string, next int, ok bool) {
	quote := input[start]
	var b strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		if c == '\\' && i+1 < len(input) {
			switch input[i+1] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(input[i+1])
			}
			i += 2
			continue
		}
		if c == quote {
			return b.String(), i + 1, true
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, false
}

func scanNumber(input string, start int) (text string, next int) {
	i := start
	if input[i] == '-' {
		i++
	}
	seenDot := false
	for i < len(input) {
		c := input[i]
		if c >= '0' && c <= '9' {
			i++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			i++
			continue
		}
		break
	}
	return input[start:i], i
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func matchOperator(s string) (string, bool) {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op, true
		}
	}
	return "", false
}
