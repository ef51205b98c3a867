package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

const (
	AlwaysPredicate = "always"
	CELPredicate    = "cel"
)

// RegisterBuiltinPredicates adds the always and cel predicate types.
func RegisterBuiltinPredicates(r *Registry) error {
	if err := r.RegisterPredicate(AlwaysPredicate, NewAlwaysPredicate); err != nil {
		return err
	}
	return r.RegisterPredicate(CELPredicate, NewCELPredicate)
}

type alwaysPredicate struct{}

// NewAlwaysPredicate matches every payload. It ignores its config.
func NewAlwaysPredicate(json.RawMessage) (Predicate, error) {
	return alwaysPredicate{}, nil
}

func (alwaysPredicate) Matches(context.Context, json.RawMessage) (bool, error) {
	return true, nil
}

type celConfig struct {
	Expression string `json:"expression"`
}

// celPredicate evaluates a boolean CEL expression over the request payload,
// exposed to the expression as the map variable "payload".
type celPredicate struct {
	expression string
	program    cel.Program
}

func NewCELPredicate(config json.RawMessage) (Predicate, error) {
	var cfg celConfig
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("decode cel config: %w", err)
		}
	}
	cfg.Expression = strings.TrimSpace(cfg.Expression)
	if cfg.Expression == "" {
		return nil, fmt.Errorf("cel expression is required")
	}

	env, err := cel.NewEnv(cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, iss := env.Compile(cfg.Expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile cel expression: %w", iss.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("cel expression must return bool, got %s", out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build cel program: %w", err)
	}

	return &celPredicate{expression: cfg.Expression, program: program}, nil
}

func (p *celPredicate) Matches(ctx context.Context, payload json.RawMessage) (bool, error) {
	var vars map[string]any
	if err := json.Unmarshal(payload, &vars); err != nil {
		return false, fmt.Errorf("decode payload: %w", err)
	}
	if vars == nil {
		vars = map[string]any{}
	}

	val, _, err := p.program.ContextEval(ctx, map[string]any{"payload": vars})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.expression, err)
	}

	matched, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is %T, not bool", p.expression, val.Value())
	}
	return matched, nil
}
