package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

const (
	maxConditionLength = 1024
	maxCostBudget      = 100_000
)

// ConditionEvaluator runs rule conditions in a CEL environment that only
// exposes args, resource and action. CEL has no I/O, no imports and no
// mutation, so a condition can only compute a value from its inputs.
type ConditionEvaluator struct {
	env *cel.Env
}

// Condition is a compiled rule condition
type Condition struct {
	expr    string
	program cel.Program
}

func NewConditionEvaluator() (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.CrossTypeNumericComparisons(true),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.StringType),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}
	return &ConditionEvaluator{env: env}, nil
}

// Compile parses and type-checks expr.
func (c *ConditionEvaluator) Compile(expr string) (*Condition, error) {
	if expr == "" {
		return nil, errors.New("condition is empty")
	}
	if len(expr) > maxConditionLength {
		return nil, fmt.Errorf("condition too long: %d characters (max %d)", len(expr), maxConditionLength)
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition: %w", issues.Err())
	}

	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
	)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}

	return &Condition{expr: expr, program: prg}, nil
}

// Eval returns the boolean value of cond for req. Missing keys, type
// mismatches and non-boolean results are reported as errors.
//
// The result depends only on cond and req: cancellation of ctx is ignored
// and runaway expressions are stopped by the cost limit instead.
func (c *ConditionEvaluator) Eval(ctx context.Context, cond *Condition, req Request) (bool, error) {
	args := req.Args
	if args == nil {
		args = map[string]any{}
	}

	out, _, err := cond.program.ContextEval(context.WithoutCancel(ctx), map[string]any{
		"args":     args,
		"resource": req.Resource,
		"action":   req.Action,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", cond.expr, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is %T, not bool", cond.expr, out.Value())
	}
	return result, nil
}

func (c *Condition) String() string {
	return c.expr
}
