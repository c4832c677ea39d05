package ubac

import (
	"context"
	"testing"
	"time"
)

func setAttr(t *testing.T, store AttributeStore, principal, name, value string, expires time.Time) {
	t.Helper()
	err := store.Set(context.Background(), &Attribute{
		PrincipalName: principal,
		Name:          name,
		Value:         value,
		ExpiresAt:     expires,
	})
	if err != nil {
		t.Fatalf("set attribute: %v", err)
	}
}

func TestEvaluatorDefaultAllow(t *testing.T) {
	ctx := context.Background()
	ev, err := NewRuleEvaluator(NewMemoryAttributeStore(), nil, nil)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}
	ok, err := ev.Validate(ctx, "u1", ResourceTable, "ANY_TABLE")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Fatalf("no applicable rule must allow")
	}
}

func TestEvaluatorPresenceOnly(t *testing.T) {
	ctx := context.Background()
	attrs := NewMemoryAttributeStore()
	ev, err := NewRuleEvaluator(attrs, []Rule{
		{Pattern: "HR_*", RequiredAttribute: "badge"},
	}, nil)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	ok, _ := ev.Validate(ctx, "u1", ResourceTable, "HR_SALARIES")
	if ok {
		t.Fatalf("missing attribute must veto")
	}

	// Any value satisfies a rule without allowed values
	setAttr(t, attrs, "u1", "badge", "whatever", time.Time{})
	ok, _ = ev.Validate(ctx, "u1", ResourceTable, "HR_SALARIES")
	if !ok {
		t.Fatalf("attribute presence must satisfy the rule")
	}
}

func TestEvaluatorAllowedValues(t *testing.T) {
	ctx := context.Background()
	attrs := NewMemoryAttributeStore()
	ev, err := NewRuleEvaluator(attrs, []Rule{
		{Pattern: "*SENSITIVE*", RequiredAttribute: "clearanceLevel", AllowedValues: []string{"HIGH", "ADMIN"}},
	}, nil)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	setAttr(t, attrs, "u1", "clearanceLevel", "LOW", time.Time{})
	ok, _ := ev.Validate(ctx, "u1", ResourceProcedure, "MONTHLY_SENSITIVE")
	if ok {
		t.Fatalf("value outside the allowed set must veto")
	}

	setAttr(t, attrs, "u1", "clearanceLevel", "ADMIN", time.Time{})
	ok, _ = ev.Validate(ctx, "u1", ResourceProcedure, "MONTHLY_SENSITIVE")
	if !ok {
		t.Fatalf("expected ADMIN to satisfy the rule")
	}
}

func TestEvaluatorResourceTypeScope(t *testing.T) {
	ctx := context.Background()
	ev, err := NewRuleEvaluator(NewMemoryAttributeStore(), []Rule{
		{Pattern: "*", ResourceType: ResourceTable, RequiredAttribute: "badge"},
	}, nil)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	// The rule is scoped to tables, so procedures pass untouched
	ok, _ := ev.Validate(ctx, "u1", ResourceProcedure, "p1")
	if !ok {
		t.Fatalf("rule must not cover other resource types")
	}
	ok, _ = ev.Validate(ctx, "u1", "table", "T1")
	if ok {
		t.Fatalf("resource type match is case-insensitive")
	}
}

func TestEvaluatorExpiredAttributeIsAbsent(t *testing.T) {
	ctx := context.Background()
	attrs := NewMemoryAttributeStore()
	ev, err := NewRuleEvaluator(attrs, []Rule{
		{Pattern: "*", RequiredAttribute: "badge"},
	}, nil)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	setAttr(t, attrs, "u1", "badge", "ok", time.Now().Add(-time.Minute))
	ok, _ := ev.Validate(ctx, "u1", ResourceTable, "T1")
	if ok {
		t.Fatalf("an expired attribute must count as absent")
	}
}

func TestEvaluatorConditionExpression(t *testing.T) {
	ctx := context.Background()
	attrs := NewMemoryAttributeStore()
	ev, err := NewRuleEvaluator(attrs, []Rule{
		{Pattern: "EU_*", RequiredAttribute: "region", Condition: `has && value == "EMEA"`},
	}, nil)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	ok, _ := ev.Validate(ctx, "u1", ResourceTable, "EU_ORDERS")
	if ok {
		t.Fatalf("condition must veto without the attribute")
	}

	setAttr(t, attrs, "u1", "region", "APAC", time.Time{})
	ok, _ = ev.Validate(ctx, "u1", ResourceTable, "EU_ORDERS")
	if ok {
		t.Fatalf("condition must veto for the wrong region")
	}

	setAttr(t, attrs, "u1", "region", "EMEA", time.Time{})
	ok, _ = ev.Validate(ctx, "u1", ResourceTable, "EU_ORDERS")
	if !ok {
		t.Fatalf("expected the condition to pass for EMEA")
	}
}

func TestEvaluatorAllApplicableRulesMustPass(t *testing.T) {
	ctx := context.Background()
	attrs := NewMemoryAttributeStore()
	ev, err := NewRuleEvaluator(attrs, []Rule{
		{Pattern: "FIN_*", RequiredAttribute: "department", AllowedValues: []string{"FINANCE"}},
		{Pattern: "*_SECRET", RequiredAttribute: "clearanceLevel", AllowedValues: []string{"HIGH"}},
	}, nil)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	setAttr(t, attrs, "u1", "department", "FINANCE", time.Time{})
	ok, _ := ev.Validate(ctx, "u1", ResourceTable, "FIN_SECRET")
	if ok {
		t.Fatalf("every applicable rule must pass")
	}

	setAttr(t, attrs, "u1", "clearanceLevel", "HIGH", time.Time{})
	ok, _ = ev.Validate(ctx, "u1", ResourceTable, "FIN_SECRET")
	if !ok {
		t.Fatalf("expected both rules to pass")
	}
}

func TestEvaluatorCompileRejectsBadRules(t *testing.T) {
	if _, err := NewRuleEvaluator(NewMemoryAttributeStore(), []Rule{
		{Pattern: "", RequiredAttribute: "x"},
	}, nil); err == nil {
		t.Fatalf("expected an error for an empty pattern")
	}
	if _, err := NewRuleEvaluator(NewMemoryAttributeStore(), []Rule{
		{Pattern: "*", RequiredAttribute: ""},
	}, nil); err == nil {
		t.Fatalf("expected an error for a missing attribute name")
	}
	if _, err := NewRuleEvaluator(NewMemoryAttributeStore(), []Rule{
		{Pattern: "*", RequiredAttribute: "x", Condition: "value &&"},
	}, nil); err == nil {
		t.Fatalf("expected an error for a malformed condition")
	}
}
