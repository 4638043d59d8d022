// Package celrule evaluates contract action-rule conditions with CEL.
// Expressions are bounded in length, nesting, and runtime cost so a
// hostile contract cannot stall the guard.
package celrule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/ambit-sec/ambit/internal/domain/scope"
)

// maxExpressionLength caps one rule condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit per evaluation.
const maxCostBudget = 100_000

// maxNestingDepth caps parenthesis/bracket/brace nesting.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations)
// cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles rule conditions once and reuses the programs.
// Safe for concurrent use; the contract reload path re-feeds the same
// expressions and hits the cache.
type Evaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

var _ scope.RuleEvaluator = (*Evaluator)(nil)

// NewEvaluator builds the rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := newRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}
	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// EvalRule evaluates one condition over {action, details}. A nil details
// map evaluates as empty.
func (e *Evaluator) EvalRule(ctx context.Context, expr string, action string, details map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	if details == nil {
		details = map[string]any{}
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(evalCtx, map[string]any{
		"action":  action,
		"details": details,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate rule: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule did not return a boolean, got %T", result.Value())
	}
	return b, nil
}

// ValidateExpression checks a rule condition without evaluating it:
// length and nesting limits, then a full compile. Used by contract
// linting so a bad rule is rejected at load time, not at decision time.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.program(expr); err != nil {
		return err
	}
	return nil
}

// program returns the compiled form of expr, compiling on first use.
func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build rule program: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}
