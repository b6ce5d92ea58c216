package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/flowline/pkg/expression"
	"github.com/dukex/flowline/pkg/models"
)

// expressionBinder evaluates node expressions against the parameters of the
// trigger event that started the instance. The event is loaded on first use.
type expressionBinder struct {
	engine *expression.Engine
	vars   func(ctx context.Context) (*expression.Context, error)
	cached *expression.Context
}

func (b *expressionBinder) context(ctx context.Context) (*expression.Context, error) {
	if b.cached != nil {
		return b.cached, nil
	}

	vars, err := b.vars(ctx)
	if err != nil {
		return nil, err
	}

	b.cached = vars

	return vars, nil
}

func (b *expressionBinder) Condition(ctx context.Context, node *models.Node) (bool, error) {
	vars, err := b.context(ctx)
	if err != nil {
		return false, err
	}

	result, err := b.engine.Evaluate(ctx, node.Condition.Expression, vars)
	if err != nil {
		return false, err
	}

	matched, ok := result.Value.(bool)
	if !ok || result.Type != models.ParameterBool {
		return false, &expression.EvaluationError{
			Expression: node.Condition.Expression,
			Err:        fmt.Errorf("%w: condition %s evaluated to %s, want BOOL", expression.ErrEvaluation, node.Ref, result.Type),
		}
	}

	return matched, nil
}

// Params binds a task's parameter expressions, ordered by name.
func (b *expressionBinder) Params(ctx context.Context, node *models.Node) ([]models.Parameter, error) {
	if node.Task == nil || len(node.Task.Params) == 0 {
		return nil, nil
	}

	vars, err := b.context(ctx)
	if err != nil {
		return nil, err
	}

	bound, err := b.engine.Bind(ctx, node.Task.Params, vars)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(bound))
	for name := range bound {
		names = append(names, name)
	}

	sort.Strings(names)

	params := make([]models.Parameter, 0, len(names))
	for _, name := range names {
		param := bound[name]
		param.Name = name
		params = append(params, param)
	}

	return params, nil
}
