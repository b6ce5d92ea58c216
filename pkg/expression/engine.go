// Package expression evaluates trigger and task parameter expressions.
//
// Three forms are recognized:
//
//	((namespace.key))        secret reference, resolved through a secret store
//	(trigger.ref == 'main')  expression, run with expr-lang against a Context
//	anything else            literal string
package expression

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/secrets"
	"github.com/expr-lang/expr"
)

var secretRef = regexp.MustCompile(`^\(\(([a-zA-Z0-9_-]+\.*[a-zA-Z0-9_-]+)\)\)$`)

// SecretResolver is the part of a secret store the engine needs.
type SecretResolver interface {
	Resolve(ctx context.Context, namespace, key string) (string, error)
}

type Engine struct {
	secrets SecretResolver
}

func NewEngine(secrets SecretResolver) *Engine {
	return &Engine{secrets: secrets}
}

// ParseSecretRef splits a ((namespace.key)) reference.
func ParseSecretRef(exp string) (namespace, key string, ok bool) {
	match := secretRef.FindStringSubmatch(exp)
	if match == nil {
		return "", "", false
	}

	namespace, key, found := strings.Cut(match[1], ".")
	if !found {
		return "", "", false
	}

	return namespace, strings.TrimLeft(key, "."), true
}

// IsSecretRef reports whether exp is a ((namespace.key)) reference.
func IsSecretRef(exp string) bool {
	_, _, ok := ParseSecretRef(exp)

	return ok
}

// IsExpression reports whether exp is evaluated rather than taken literally.
func IsExpression(exp string) bool {
	return strings.HasPrefix(exp, "(")
}

// ResolveSecret returns the value behind a ((namespace.key)) reference.
func (e *Engine) ResolveSecret(ctx context.Context, ref string) (string, error) {
	namespace, key, ok := ParseSecretRef(ref)
	if !ok {
		return "", &EvaluationError{Expression: ref, Err: fmt.Errorf("%w: malformed secret reference", ErrEvaluation)}
	}

	if e.secrets == nil {
		return "", &EvaluationError{Expression: ref, Err: fmt.Errorf("%w: no secret store configured", ErrDataNotFound)}
	}

	value, err := e.secrets.Resolve(ctx, namespace, key)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return "", &EvaluationError{Expression: ref, Err: fmt.Errorf("%w: %w", ErrDataNotFound, err)}
		}

		return "", &EvaluationError{Expression: ref, Err: err}
	}

	return value, nil
}

// Evaluate computes exp against vars. Failures are never defaulted: the caller
// receives an *EvaluationError naming the expression.
func (e *Engine) Evaluate(ctx context.Context, exp string, vars *Context) (models.Parameter, error) {
	if IsSecretRef(exp) {
		value, err := e.ResolveSecret(ctx, exp)
		if err != nil {
			return models.Parameter{}, err
		}

		return models.NewSecretParameter(exp, value), nil
	}

	code := exp
	if !IsExpression(exp) {
		code = strconv.Quote(exp)
	}

	if vars == nil {
		vars = NewContext()
	}

	env := vars.env()

	program, err := expr.Compile(code, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return models.Parameter{}, &EvaluationError{Expression: exp, Err: fmt.Errorf("%w: %w", ErrEvaluation, err)}
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return models.Parameter{}, &EvaluationError{Expression: exp, Err: fmt.Errorf("%w: %w", ErrEvaluation, err)}
	}

	param, err := models.TypeOf(output).NewParameter(output)
	if err != nil {
		return models.Parameter{}, &EvaluationError{Expression: exp, Err: fmt.Errorf("%w: %w", ErrEvaluation, err)}
	}

	return param, nil
}

// EvaluateBool evaluates exp and requires a BOOL result.
func (e *Engine) EvaluateBool(ctx context.Context, exp string, vars *Context) (bool, models.Parameter, error) {
	param, err := e.Evaluate(ctx, exp, vars)
	if err != nil {
		return false, param, err
	}

	b, ok := param.Value.(bool)

	return ok && param.Type == models.ParameterBool && b, param, nil
}

// Bind evaluates every expression of params. Results keep their evaluated type,
// so secrets stay SECRET and are redacted wherever the result is serialized.
func (e *Engine) Bind(ctx context.Context, params map[string]string, vars *Context) (map[string]models.Parameter, error) {
	bound := make(map[string]models.Parameter, len(params))
	for name, exp := range params {
		param, err := e.Evaluate(ctx, exp, vars)
		if err != nil {
			return nil, fmt.Errorf("failed to bind parameter %q: %w", name, err)
		}

		bound[name] = param
	}

	return bound, nil
}
