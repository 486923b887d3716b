// Package expression evaluates the ${...} placeholders found in process definitions against
// execution variables. Placeholders follow the HCL template syntax.
package expression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/jonboulle/clockwork"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var (
	ErrInvalidExpression = errors.New("invalid expression")
	ErrEvaluationFailed  = errors.New("expression evaluation failed")
)

// Evaluator evaluates expressions. A template made of a single placeholder yields the native
// value of the expression ("${count}" is an int), anything else yields a string.
type Evaluator struct {
	logger    *slog.Logger
	functions map[string]function.Function
}

func NewEvaluator(logger *slog.Logger, clock clockwork.Clock) *Evaluator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Evaluator{
		logger: logger.With("module", "expression"),
		functions: map[string]function.Function{
			"upper":      stdlib.UpperFunc,
			"lower":      stdlib.LowerFunc,
			"length":     stdlib.LengthFunc,
			"concat":     stdlib.ConcatFunc,
			"coalesce":   stdlib.CoalesceFunc,
			"contains":   stdlib.ContainsFunc,
			"format":     stdlib.FormatFunc,
			"max":        stdlib.MaxFunc,
			"min":        stdlib.MinFunc,
			"jsonencode": stdlib.JSONEncodeFunc,
			"jsondecode": stdlib.JSONDecodeFunc,
			"now":        nowFunc(clock),
		},
	}
}

// NeedsEvaluation reports whether input contains a placeholder.
func NeedsEvaluation(input string) bool {
	return strings.Contains(input, "${")
}

// Evaluate evaluates expression against variables.
func (e *Evaluator) Evaluate(expression string, variables map[string]any) (any, error) {
	expr, diags := hclsyntax.ParseTemplate([]byte(expression), "expression", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w %q: %s", ErrInvalidExpression, expression, diags.Error())
	}

	evalContext, err := e.evalContext(expr, variables)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrEvaluationFailed, expression, err)
	}

	value, diags := expr.Value(evalContext)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w %q: %s", ErrEvaluationFailed, expression, diags.Error())
	}

	result, err := fromValue(value)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrEvaluationFailed, expression, err)
	}

	return result, nil
}

// Resolve replaces the placeholders of value, walking maps and lists. A placeholder that
// fails to evaluate is logged and kept as written.
func (e *Evaluator) Resolve(ctx context.Context, value any, variables map[string]any) any {
	switch v := value.(type) {
	case string:
		if !NeedsEvaluation(v) {
			return v
		}

		result, err := e.Evaluate(v, variables)
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to resolve expression, keeping literal",
				"expression", v,
				"error", err)

			return v
		}

		return result
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, item := range v {
			resolved[key] = e.Resolve(ctx, item, variables)
		}

		return resolved
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			resolved[i] = e.Resolve(ctx, item, variables)
		}

		return resolved
	default:
		return value
	}
}

// evalContext converts only the variables the expression references.
func (e *Evaluator) evalContext(expr hcl.Expression, variables map[string]any) (*hcl.EvalContext, error) {
	values := make(map[string]cty.Value)

	for _, traversal := range expr.Variables() {
		name := traversal.RootName()
		if _, done := values[name]; done {
			continue
		}

		raw, ok := variables[name]
		if !ok {
			continue
		}

		value, err := toValue(raw)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}

		values[name] = value
	}

	return &hcl.EvalContext{
		Variables: values,
		Functions: e.functions,
	}, nil
}

func nowFunc(clock clockwork.Clock) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{},
		Type:   function.StaticReturnType(cty.String),
		Impl: func(_ []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.StringVal(clock.Now().UTC().Format(time.RFC3339)), nil
		},
	})
}
