package expression

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/log"
)

func newEvaluator() *Evaluator {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	return NewEvaluator(log.Discard(), clock)
}

func TestEvaluate_FullMatchYieldsNativeValue(t *testing.T) {
	evaluator := newEvaluator()

	variables := map[string]any{
		"name":   "John",
		"age":    30,
		"ratio":  0.5,
		"active": true,
		"order": map[string]any{
			"items": []any{"a", "b"},
		},
	}

	tests := []struct {
		name       string
		expression string
		expected   any
	}{
		{name: "string", expression: "${name}", expected: "John"},
		{name: "int", expression: "${age}", expected: 30},
		{name: "float", expression: "${ratio}", expected: 0.5},
		{name: "bool", expression: "${active}", expected: true},
		{name: "comparison", expression: "${age > 18}", expected: true},
		{name: "nested", expression: "${order.items[1]}", expected: "b"},
		{name: "function", expression: "${length(order.items)}", expected: 2},
		{name: "map", expression: "${order}", expected: map[string]any{"items": []any{"a", "b"}}},
		{name: "interpolation", expression: "Hello ${upper(name)}!", expected: "Hello JOHN!"},
		{name: "literal", expression: "no placeholders", expected: "no placeholders"},
		{name: "now", expression: "${now()}", expected: "2024-03-01T12:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(tt.expression, variables)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	evaluator := newEvaluator()

	_, err := evaluator.Evaluate("${missing}", map[string]any{})
	require.ErrorIs(t, err, ErrEvaluationFailed)

	_, err = evaluator.Evaluate("${1 +}", map[string]any{})
	require.ErrorIs(t, err, ErrInvalidExpression)
}

func TestResolve_WalksMapsAndLists(t *testing.T) {
	evaluator := newEvaluator()

	value := map[string]any{
		"amount":  "${total}",
		"message": "total is ${total}",
		"tags":    []any{"${customer}", "fixed"},
		"broken":  "${unknown.field}",
		"count":   3,
	}

	resolved := evaluator.Resolve(t.Context(), value, map[string]any{
		"total":    150,
		"customer": "acme",
	})

	assert.Equal(t, map[string]any{
		"amount":  150,
		"message": "total is 150",
		"tags":    []any{"acme", "fixed"},
		"broken":  "${unknown.field}",
		"count":   3,
	}, resolved)
}

func TestNeedsEvaluation(t *testing.T) {
	assert.True(t, NeedsEvaluation("${a}"))
	assert.True(t, NeedsEvaluation("prefix ${a} suffix"))
	assert.False(t, NeedsEvaluation("plain"))
	assert.False(t, NeedsEvaluation("$a"))
}
