package conditions

import (
	"regexp"

	"github.com/rendis/flowcore/pkg/schema"
)

// disallowedPattern pairs a compiled pattern with a human-readable reason
// reported back to the workflow author.
type disallowedPattern struct {
	re     *regexp.Regexp
	reason string
}

// disallowed is checked against the raw expression before interpolation.
// Anything that looks like code rather than a comparison is rejected here;
// the tokenizer catches whatever slips through.
var disallowed = []disallowedPattern{
	{regexp.MustCompile(`\bfunction\b`), "function definitions are not allowed"},
	{regexp.MustCompile(`=>`), "lambda definitions are not allowed"},
	{regexp.MustCompile(`\beval\b`), "dynamic evaluation is not allowed"},
	{regexp.MustCompile(`\bnew\s+[A-Za-z_$]`), "constructor invocation is not allowed"},
	{regexp.MustCompile(`\b(require|import)\b`), "module loading is not allowed"},
	{regexp.MustCompile(`\b(process|global|globalThis|window|document|constructor|prototype|__proto__)\b`), "access to prohibited namespaces is not allowed"},
	{regexp.MustCompile(`\[`), "subscript access is not allowed"},
	// Call syntax is an identifier immediately followed by an opening paren.
	// Whitespace in between is not call syntax, so keyword operators can take
	// a parenthesized operand, e.g. `"abc" contains ("b")`.
	{regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*\(`), "function calls are not allowed"},
	{regexp.MustCompile(`(^|[^=!<>])=([^=]|$)`), "assignment is not allowed"},
	{regexp.MustCompile(`[+*/%]=|-=`), "compound assignment is not allowed"},
	{regexp.MustCompile(`\+\+|--`), "increment/decrement is not allowed"},
}

// screen rejects the raw expression if it matches any disallowed pattern.
func screen(expression string) *schema.FlowError {
	for _, p := range disallowed {
		if p.re.MatchString(expression) {
			return evalError(expression, "unsafe expression: %s", p.reason)
		}
	}
	return nil
}
