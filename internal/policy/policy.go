// Package policy decides whether a failed provider or bank call may be
// retried. Rules are govaluate expressions over the call's attributes.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/travel-orchestrator/internal/config"
	"github.com/yourorg/travel-orchestrator/internal/failure"
)

// PolicyDecision is the outcome of a rule evaluation.
type PolicyDecision struct {
	AllowRetry bool
	BackoffMs  int
	// RuleID names the matching rule; empty when the default applied.
	RuleID string
}

// Backoff returns the wait before the next attempt.
func (d PolicyDecision) Backoff() time.Duration {
	return time.Duration(d.BackoffMs) * time.Millisecond
}

// PolicyRule is one retry rule. Lower Priority values are evaluated first;
// the first rule whose Expression is true wins.
type PolicyRule struct {
	ID         string
	Expression string
	Priority   int
	Decision   PolicyDecision
}

// Input is the set of parameters exposed to rule expressions.
type Input struct {
	Operation    string
	Failure      failure.Class
	Attempt      int
	MaxAttempts  int
	Idempotent   bool
	Delivered    bool
	Compensation bool
}

func (in Input) parameters() map[string]interface{} {
	return map[string]interface{}{
		"operation":    in.Operation,
		"failure":      string(in.Failure),
		"attempt":      float64(in.Attempt),
		"maxAttempts":  float64(in.MaxAttempts),
		"idempotent":   in.Idempotent,
		"delivered":    in.Delivered,
		"compensation": in.Compensation,
	}
}

type compiledRule struct {
	rule PolicyRule
	expr *govaluate.EvaluableExpression
}

// RetryPolicy evaluates compiled rules. The zero match decision forbids retry.
type RetryPolicy struct {
	rules []compiledRule
}

// NewRetryPolicy compiles rules, failing on the first invalid expression.
func NewRetryPolicy(rules []PolicyRule) (*RetryPolicy, error) {
	sorted := make([]PolicyRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	p := &RetryPolicy{}
	for _, r := range sorted {
		if strings.TrimSpace(r.Expression) == "" {
			return nil, fmt.Errorf("policy rule ID '%s' has an empty expression", r.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", r.ID, err)
		}
		r.Decision.RuleID = r.ID
		p.rules = append(p.rules, compiledRule{rule: r, expr: expr})
	}
	return p, nil
}

// Evaluate returns the decision of the first matching rule.
func (p *RetryPolicy) Evaluate(in Input) (PolicyDecision, error) {
	params := in.parameters()
	for _, cr := range p.rules {
		result, err := cr.expr.Evaluate(params)
		if err != nil {
			return PolicyDecision{}, fmt.Errorf("policy rule ID '%s': %w", cr.rule.ID, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return PolicyDecision{}, fmt.Errorf("policy rule ID '%s' did not evaluate to a boolean", cr.rule.ID)
		}
		if matched {
			return cr.rule.Decision, nil
		}
	}
	return PolicyDecision{}, nil
}

// ShouldRetry is Evaluate with evaluation errors treated as "do not retry".
func (p *RetryPolicy) ShouldRetry(in Input) PolicyDecision {
	d, err := p.Evaluate(in)
	if err != nil {
		return PolicyDecision{}
	}
	return d
}

// DefaultRules retries idempotent calls on network failures, and compensation
// calls on network failures when they are idempotent or never reached the
// remote side.
func DefaultRules(backoff time.Duration) []PolicyRule {
	ms := int(backoff / time.Millisecond)
	return []PolicyRule{
		{
			ID:         "idempotent_network_retry",
			Expression: "idempotent && failure == 'NETWORK_FAILURE' && attempt < maxAttempts",
			Priority:   10,
			Decision:   PolicyDecision{AllowRetry: true, BackoffMs: ms},
		},
		{
			ID:         "compensation_network_retry",
			Expression: "compensation && failure == 'NETWORK_FAILURE' && attempt < maxAttempts && (idempotent || !delivered)",
			Priority:   20,
			Decision:   PolicyDecision{AllowRetry: true, BackoffMs: ms * 2},
		},
	}
}

// FromConfig builds a policy from configured rules, or the defaults when none are set.
func FromConfig(cfg config.RetryConfig, backoff time.Duration) (*RetryPolicy, error) {
	if len(cfg.Rules) == 0 {
		return NewRetryPolicy(DefaultRules(backoff))
	}
	rules := make([]PolicyRule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		rules = append(rules, PolicyRule{
			ID:         rc.ID,
			Expression: rc.Expression,
			Priority:   rc.Priority,
			Decision:   PolicyDecision{AllowRetry: rc.AllowRetry, BackoffMs: rc.BackoffMs},
		})
	}
	return NewRetryPolicy(rules)
}
