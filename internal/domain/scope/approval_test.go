package scope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ambit-sec/ambit/internal/domain/contract"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

type fakeRuleEvaluator struct {
	fn func(expr, action string) (bool, error)
}

func (f *fakeRuleEvaluator) EvalRule(_ context.Context, expr, action string, _ map[string]any) (bool, error) {
	return f.fn(expr, action)
}

type fakeChannel struct {
	decision outbound.ApprovalDecision
	err      error
	block    bool

	got *outbound.ApprovalRequest
}

func (f *fakeChannel) Request(ctx context.Context, req outbound.ApprovalRequest) (outbound.ApprovalDecision, error) {
	f.got = &req
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.decision, f.err
}

func approvalContract(mode contract.ApprovalMode) *contract.Contract {
	return &contract.Contract{
		ApprovalPolicy: contract.ApprovalPolicy{
			Mode:       mode,
			TimeoutSec: 5,
		},
	}
}

func TestApprovalEngine_Modes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mode     contract.ApprovalMode
		want     contract.Action
		wantRule string
	}{
		{"deny all", contract.ModeDenyAll, contract.ActionDeny, "approval_policy.mode: DENY_ALL"},
		{"auto approve", contract.ModeAutoApprove, contract.ActionAllow, "approval_policy.mode: AUTO_APPROVE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := &approvalEngine{}
			got, err := e.Decide(context.Background(), approvalContract(tt.mode), "browser_navigate", nil)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if got.Outcome != tt.want || got.Rule != tt.wantRule {
				t.Errorf("got %+v, want outcome=%s rule=%q", got, tt.want, tt.wantRule)
			}
		})
	}
}

func TestApprovalEngine_ForbiddenBeatsAutoApprove(t *testing.T) {
	t.Parallel()

	c := approvalContract(contract.ModeAutoApprove)
	c.Actions.Forbidden = []string{"validator_*", "browser_xss_probe"}

	e := &approvalEngine{}
	got, err := e.Decide(context.Background(), c, "validator_repro", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if got.Outcome != contract.ActionDeny {
		t.Errorf("Outcome = %s, want DENY", got.Outcome)
	}
	if got.Rule != "actions.forbidden: validator_*" {
		t.Errorf("Rule = %q, want matching forbidden pattern", got.Rule)
	}
}

func TestApprovalEngine_InteractiveUngatedAllows(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{decision: outbound.ApprovalDeny}
	e := &approvalEngine{channel: ch}

	got, err := e.Decide(context.Background(), approvalContract(contract.ModeInteractive), "browser_navigate", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if got.Outcome != contract.ActionAllow {
		t.Errorf("Outcome = %s, want ALLOW for ungated action", got.Outcome)
	}
	if ch.got != nil {
		t.Error("ungated action reached the approval channel")
	}
}

func TestApprovalEngine_InteractiveGated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		decision outbound.ApprovalDecision
		err      error
		onTime   contract.Action
		onErr    contract.Action
		want     contract.Action
	}{
		{name: "operator allows", decision: outbound.ApprovalAllow, want: contract.ActionAllow},
		{name: "operator denies", decision: outbound.ApprovalDeny, want: contract.ActionDeny},
		{name: "timeout escalates deny", decision: outbound.ApprovalTimeout, onTime: contract.ActionDeny, want: contract.ActionDeny},
		{name: "timeout escalates allow", decision: outbound.ApprovalTimeout, onTime: contract.ActionAllow, want: contract.ActionAllow},
		{name: "deadline error is timeout", err: context.DeadlineExceeded, onTime: contract.ActionAllow, want: contract.ActionAllow},
		{name: "channel error escalates", err: errors.New("channel broken"), onErr: contract.ActionAllow, want: contract.ActionAllow},
		{name: "channel error defaults deny", err: errors.New("channel broken"), want: contract.ActionDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := approvalContract(contract.ModeInteractive)
			c.Actions.RequiresApproval = []string{"browser_xss_probe"}
			c.ApprovalPolicy.Escalation.OnTimeout = tt.onTime
			c.ApprovalPolicy.Escalation.OnError = tt.onErr

			ch := &fakeChannel{decision: tt.decision, err: tt.err}
			e := &approvalEngine{channel: ch}

			got, err := e.Decide(context.Background(), c, "browser_xss_probe", map[string]any{"target": "https://api.example.com"})
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if got.Outcome != tt.want {
				t.Errorf("Outcome = %s, want %s (result %+v)", got.Outcome, tt.want, got)
			}
			if ch.got == nil {
				t.Fatal("gated action never reached the channel")
			}
			if ch.got.Action != "browser_xss_probe" || ch.got.ID == "" {
				t.Errorf("channel request = %+v, want action and id set", ch.got)
			}
		})
	}
}

func TestApprovalEngine_DefaultActionFallback(t *testing.T) {
	t.Parallel()

	c := approvalContract(contract.ModeInteractive)
	c.Actions.RequiresApproval = []string{"*"}
	c.ApprovalPolicy.DefaultAction = contract.ActionAllow // no escalation entries

	e := &approvalEngine{channel: &fakeChannel{decision: outbound.ApprovalTimeout}}
	got, err := e.Decide(context.Background(), c, "anything", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if got.Outcome != contract.ActionAllow {
		t.Errorf("Outcome = %s, want default_action ALLOW", got.Outcome)
	}
}

func TestApprovalEngine_Rules(t *testing.T) {
	t.Parallel()

	newContract := func(effect contract.RuleEffect) *contract.Contract {
		c := approvalContract(contract.ModeInteractive)
		c.Actions.Rules = []contract.ActionRule{
			{Name: "first", When: `action == "nope"`, Effect: contract.EffectDeny},
			{Name: "second", When: `action == "hit"`, Effect: effect},
		}
		return c
	}
	eval := &fakeRuleEvaluator{fn: func(expr, action string) (bool, error) {
		switch expr {
		case `action == "hit"`:
			return action == "hit", nil
		default:
			return false, nil
		}
	}}

	t.Run("rule denies", func(t *testing.T) {
		t.Parallel()
		e := &approvalEngine{rules: eval}
		got, _ := e.Decide(context.Background(), newContract(contract.EffectDeny), "hit", nil)
		if got.Outcome != contract.ActionDeny || got.Rule != "actions.rules: second" {
			t.Errorf("got %+v, want deny by rule second", got)
		}
	})

	t.Run("rule allows", func(t *testing.T) {
		t.Parallel()
		e := &approvalEngine{rules: eval}
		got, _ := e.Decide(context.Background(), newContract(contract.EffectAllow), "hit", nil)
		if got.Outcome != contract.ActionAllow || got.Rule != "actions.rules: second" {
			t.Errorf("got %+v, want allow by rule second", got)
		}
	})

	t.Run("rule gates", func(t *testing.T) {
		t.Parallel()
		ch := &fakeChannel{decision: outbound.ApprovalAllow}
		e := &approvalEngine{rules: eval, channel: ch}
		got, _ := e.Decide(context.Background(), newContract(contract.EffectRequireApproval), "hit", nil)
		if got.Outcome != contract.ActionAllow || ch.got == nil {
			t.Errorf("got %+v (channel hit=%v), want gated allow", got, ch.got != nil)
		}
	})

	t.Run("eval error applies escalation", func(t *testing.T) {
		t.Parallel()
		broken := &fakeRuleEvaluator{fn: func(string, string) (bool, error) {
			return false, errors.New("bad expression")
		}}
		c := newContract(contract.EffectDeny)
		c.ApprovalPolicy.Escalation.OnError = contract.ActionAllow
		e := &approvalEngine{rules: broken}
		got, _ := e.Decide(context.Background(), c, "hit", nil)
		if got.Outcome != contract.ActionAllow {
			t.Errorf("Outcome = %s, want escalation on_error ALLOW", got.Outcome)
		}
	})
}

func TestApprovalEngine_ParentCancellation(t *testing.T) {
	t.Parallel()

	c := approvalContract(contract.ModeInteractive)
	c.Actions.RequiresApproval = []string{"*"}

	e := &approvalEngine{channel: &fakeChannel{block: true}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := e.Decide(ctx, c, "browser_act", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Decide() error = %v, want context.Canceled", err)
	}
}
