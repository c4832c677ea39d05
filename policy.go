package ubac

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/oarkflow/ubac/logger"
)

// RuleEvaluator applies attribute rules to access that a grant has already
// allowed. It can only veto: when no rule applies the answer is true.
type RuleEvaluator struct {
	attrs  AttributeStore
	rules  []compiledRule
	logger Logger
}

type compiledRule struct {
	rule    Rule
	program *vm.Program
}

// NewRuleEvaluator compiles the rule set. Rules carrying a Condition
// expression are compiled once here; a rule that does not compile is a
// configuration error.
func NewRuleEvaluator(attrs AttributeStore, rules []Rule, log Logger) (*RuleEvaluator, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	ev := &RuleEvaluator{attrs: attrs, logger: log, rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if r.Pattern == "" || r.RequiredAttribute == "" {
			return nil, fmt.Errorf("%w: rule requires pattern and attribute", ErrInvalidArgument)
		}
		cr := compiledRule{rule: r}
		if r.Condition != "" {
			program, err := expr.Compile(r.Condition, expr.AsBool(), expr.AllowUndefinedVariables())
			if err != nil {
				return nil, fmt.Errorf("%w: rule condition %q: %v", ErrInvalidArgument, r.Condition, err)
			}
			cr.program = program
		}
		ev.rules = append(ev.rules, cr)
	}
	return ev, nil
}

// Rules returns the configured rule set.
func (ev *RuleEvaluator) Rules() []Rule {
	out := make([]Rule, 0, len(ev.rules))
	for _, cr := range ev.rules {
		out = append(out, cr.rule)
	}
	return out
}

// Validate checks every rule applicable to the resource. A missing
// required attribute or a value outside the allowed set vetoes the access.
// Rules with an empty allowed set require only that the attribute exists.
func (ev *RuleEvaluator) Validate(ctx context.Context, principal, resourceType, resourceName string) (bool, error) {
	for _, cr := range ev.rules {
		if !cr.rule.AppliesTo(resourceType, resourceName) {
			continue
		}
		attr, err := ev.attrs.Get(ctx, principal, cr.rule.RequiredAttribute)
		if err != nil {
			return false, unavailable("get attribute", err)
		}
		value := ""
		if attr != nil {
			value = attr.Value
		}
		if cr.program != nil {
			env := map[string]any{
				"principal":    principal,
				"resourceType": resourceType,
				"resourceName": resourceName,
				"value":        value,
				"has":          attr != nil,
			}
			out, err := expr.Run(cr.program, env)
			if err != nil {
				// a broken rule must never widen access
				ev.logger.Error("rule condition evaluation failed",
					"pattern", cr.rule.Pattern, "attribute", cr.rule.RequiredAttribute, "error", err)
				return false, nil
			}
			if ok, _ := out.(bool); !ok {
				return false, nil
			}
			continue
		}
		if attr == nil {
			return false, nil
		}
		if len(cr.rule.AllowedValues) > 0 && !containsString(cr.rule.AllowedValues, value) {
			return false, nil
		}
	}
	return true, nil
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
