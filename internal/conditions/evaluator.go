package conditions

import (
	"github.com/rendis/flowcore/pkg/schema"
)

// Evaluator evaluates boolean guard expressions against a run context.
//
// The pipeline is: screen the raw expression for disallowed constructs,
// interpolate {{dotted.path}} references into literals, tokenize the result
// (only literals and a fixed operator set survive), parse into an AST, and
// evaluate the AST directly. No host-language dynamic evaluation is involved,
// so an expression can never read or mutate anything beyond its own literals.
//
// Comparison semantics follow the JavaScript dialect workflow authors write:
// == and != are loose (numeric coercion across types), === and !== are
// strict. The final result is coerced to bool with JavaScript truthiness.
type Evaluator struct{}

// NewEvaluator creates a new Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate evaluates an expression against the run context.
// Any rejected pattern, invalid token, or evaluation failure returns an
// EVALUATION_ERROR carrying the offending expression.
func (e *Evaluator) Evaluate(expression string, runCtx schema.Context) (bool, error) {
	if expression == "" {
		return false, evalError(expression, "empty condition expression")
	}

	// Phase 1: reject disallowed constructs on the raw expression, before
	// interpolation can obscure them.
	if err := screen(expression); err != nil {
		return false, err
	}

	interpolated := Interpolate(expression, runCtx)

	// Phase 2: tokenize; only literals and the allowed operator set survive.
	tokens, err := tokenize(interpolated, expression)
	if err != nil {
		return false, err
	}

	node, err := parse(tokens, expression)
	if err != nil {
		return false, err
	}

	val, evalErr := node.eval()
	if evalErr != nil {
		return false, evalError(expression, "evaluation failed: %s", evalErr.Error())
	}

	return truthy(val), nil
}

// CheckSyntax validates an expression without evaluating it: screening,
// interpolation against an empty context, tokenization, and parsing all run,
// but the AST is never executed. Used when a definition is saved so authors
// learn about broken conditions before the first run.
func CheckSyntax(expression string) error {
	if expression == "" {
		return evalError(expression, "empty condition expression")
	}
	if err := screen(expression); err != nil {
		return err
	}
	interpolated := Interpolate(expression, schema.Context{})
	tokens, err := tokenize(interpolated, expression)
	if err != nil {
		return err
	}
	if _, err := parse(tokens, expression); err != nil {
		return err
	}
	return nil
}

// evalError builds an EVALUATION_ERROR with the offending expression attached.
func evalError(expression, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeEvaluation, format, args...).
		WithDetails(map[string]any{"expression": expression})
}
