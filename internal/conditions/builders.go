package conditions

import (
	"fmt"
	"strconv"
	"strings"
)

// parseNumericString converts a trimmed string to a number the way
// JavaScript ToNumber does: empty string is 0, non-numeric text is NaN
// (reported as not-ok here).
func parseNumericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func stringsContains(s, substr string) bool {
	return strings.Contains(s, substr)
}

// Helper builders producing conforming condition expressions. These are
// convenience templates for workflow authoring surfaces; the evaluator does
// not treat their output specially.

// StepSucceeded builds an expression that is true when the step completed
// successfully.
func StepSucceeded(stepID string) string {
	return fmt.Sprintf("{{steps.%s.success}} === true", stepID)
}

// StepFailed builds an expression that is true when the step failed.
func StepFailed(stepID string) string {
	return fmt.Sprintf("{{steps.%s.success}} === false", stepID)
}

// VariableEquals builds an equality check between a context path and a value.
func VariableEquals(path string, value any) string {
	return fmt.Sprintf("{{%s}} == %s", path, renderLiteral(value))
}

// VariableGreaterThan builds a numeric greater-than check.
func VariableGreaterThan(path string, value float64) string {
	return fmt.Sprintf("{{%s}} > %s", path, strconv.FormatFloat(value, 'f', -1, 64))
}

// VariableContains builds a substring containment check.
func VariableContains(path, substring string) string {
	return fmt.Sprintf("{{%s}} contains %s", path, strconv.Quote(substring))
}
