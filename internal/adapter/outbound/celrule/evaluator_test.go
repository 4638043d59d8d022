package celrule

import (
	"context"
	"strings"
	"testing"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	return e
}

func TestEvalRuleConditions(t *testing.T) {
	t.Parallel()

	e := newTestEvaluator(t)
	details := map[string]any{
		"target": "app.example.com",
		"url":    "https://app.example.com/admin/users",
		"host":   "10.2.3.4",
		"method": "POST",
		"count":  3,
	}

	tests := []struct {
		name   string
		expr   string
		action string
		want   bool
	}{
		{"action equality", `action == "sql_injection_test"`, "sql_injection_test", true},
		{"action mismatch", `action == "sql_injection_test"`, "xss_probe", false},
		{"glob on action", `glob("sql_*", action)`, "sql_injection_test", true},
		{"glob miss", `glob("sql_*", action)`, "xss_probe", false},
		{"details map access", `details.method == "POST"`, "any", true},
		{"detail helper present", `detail(details, "target") == "app.example.com"`, "any", true},
		{"detail helper absent yields empty", `detail(details, "missing") == ""`, "any", true},
		{"string functions", `details.url.contains("/admin/")`, "any", true},
		{"cidr containment", `in_cidr(string(details.host), "10.0.0.0/8")`, "any", true},
		{"cidr miss", `in_cidr(string(details.host), "192.168.0.0/16")`, "any", false},
		{"domain glob", `domain_matches(string(details.target), "*.example.com")`, "any", true},
		{"numeric comparison", `int(details.count) > 2`, "any", true},
		{"compound condition", `action.startsWith("sql") && details.method == "POST"`, "sql_injection_test", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := e.EvalRule(context.Background(), tt.expr, tt.action, details)
			if err != nil {
				t.Fatalf("EvalRule(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Fatalf("EvalRule(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalRuleNilDetails(t *testing.T) {
	t.Parallel()

	e := newTestEvaluator(t)
	got, err := e.EvalRule(context.Background(), `detail(details, "target") == ""`, "navigate", nil)
	if err != nil {
		t.Fatalf("EvalRule() error: %v", err)
	}
	if !got {
		t.Fatal("expected empty detail lookup to succeed with nil details")
	}
}

func TestEvalRuleNonBooleanRejected(t *testing.T) {
	t.Parallel()

	e := newTestEvaluator(t)
	_, err := e.EvalRule(context.Background(), `action`, "navigate", nil)
	if err == nil || !strings.Contains(err.Error(), "boolean") {
		t.Fatalf("expected non-boolean rejection, got %v", err)
	}
}

func TestEvalRuleCompileErrorSurfaces(t *testing.T) {
	t.Parallel()

	e := newTestEvaluator(t)
	_, err := e.EvalRule(context.Background(), `this is not CEL !!!`, "navigate", nil)
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestEvalRuleUnknownVariableRejected(t *testing.T) {
	t.Parallel()

	e := newTestEvaluator(t)
	_, err := e.EvalRule(context.Background(), `tool_name == "x"`, "navigate", nil)
	if err == nil {
		t.Fatal("expected undeclared variable to fail compilation")
	}
}

func TestValidateExpression(t *testing.T) {
	t.Parallel()

	e := newTestEvaluator(t)

	if err := e.ValidateExpression(`action == "navigate"`); err != nil {
		t.Fatalf("ValidateExpression(valid) error: %v", err)
	}
	if err := e.ValidateExpression(""); err == nil {
		t.Fatal("expected empty expression rejection")
	}
	if err := e.ValidateExpression(strings.Repeat("a", maxExpressionLength+1)); err == nil ||
		!strings.Contains(err.Error(), "too long") {
		t.Fatalf("expected length rejection, got %v", err)
	}

	deep := strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1)
	if err := e.ValidateExpression(deep); err == nil || !strings.Contains(err.Error(), "nesting too deep") {
		t.Fatalf("expected nesting rejection, got %v", err)
	}

	if err := e.ValidateExpression(`action ==`); err == nil {
		t.Fatal("expected syntax rejection")
	}
}

func TestProgramCacheReuse(t *testing.T) {
	t.Parallel()

	e := newTestEvaluator(t)
	expr := `action == "navigate"`
	if _, err := e.EvalRule(context.Background(), expr, "navigate", nil); err != nil {
		t.Fatalf("first EvalRule() error: %v", err)
	}

	e.mu.RLock()
	_, cached := e.programs[expr]
	e.mu.RUnlock()
	if !cached {
		t.Fatal("expected compiled program to be cached")
	}

	// Cached path must produce the same answer.
	got, err := e.EvalRule(context.Background(), expr, "screenshot", nil)
	if err != nil {
		t.Fatalf("second EvalRule() error: %v", err)
	}
	if got {
		t.Fatal("cached program returned stale result")
	}
}

func TestEvalRuleCancelledContext(t *testing.T) {
	t.Parallel()

	e := newTestEvaluator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A pre-cancelled context must not hang; small expressions may still
	// complete before the first interrupt check, so only the no-hang
	// property is asserted.
	_, _ = e.EvalRule(ctx, `action == "navigate"`, "navigate", nil)
}
