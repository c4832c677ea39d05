package ubac_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oarkflow/ubac"
)

type discardAudit struct{}

func (discardAudit) Append(ctx context.Context, rec *ubac.AuditRecord) error {
	return nil
}

func (discardAudit) Query(ctx context.Context, f ubac.AuditFilter) ([]*ubac.AuditRecord, error) {
	return nil, nil
}

// Generate a snapshot with N grants and M memberships
func generateSnapshot(numGrants, numMemberships int) *ubac.Config {
	cfg := &ubac.Config{
		Version:     1,
		Grants:      make([]*ubac.Grant, numGrants),
		Memberships: make([]ubac.RoleMembership, numMemberships),
		Rules: []ubac.Rule{
			{Pattern: "*SENSITIVE*", RequiredAttribute: "clearanceLevel", AllowedValues: []string{"HIGH", "ADMIN"}},
		},
	}
	for i := 0; i < numGrants; i++ {
		cfg.Grants[i] = &ubac.Grant{
			ResourceType:  ubac.ResourceTable,
			ResourceName:  fmt.Sprintf("TABLE_%d", i),
			Action:        ubac.ActionSelect,
			PrincipalKind: ubac.PrincipalUser,
			PrincipalName: fmt.Sprintf("user_%d", i%10),
		}
	}
	for i := 0; i < numMemberships; i++ {
		cfg.Memberships[i] = ubac.RoleMembership{
			Principal: fmt.Sprintf("user_%d", i%10),
			Role:      fmt.Sprintf("role_%d", i),
		}
	}
	return cfg
}

func benchEngine(b *testing.B, opts ...ubac.Option) *ubac.Engine {
	b.Helper()
	eng, err := ubac.New(append([]ubac.Option{ubac.WithAuditLog(discardAudit{})}, opts...)...)
	if err != nil {
		b.Fatalf("engine: %v", err)
	}
	return eng
}

// Benchmark a direct-grant decision
func BenchmarkCheckAccessDirect(b *testing.B) {
	ctx := context.Background()
	eng := benchEngine(b)
	if _, err := eng.Grant(ctx, ubac.ResourceTable, "ORDERS", ubac.ActionSelect,
		ubac.UserPrincipal("u1"), time.Time{}, nil); err != nil {
		b.Fatalf("grant: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = eng.CheckAccess(ctx, "u1", ubac.ResourceTable, "ORDERS", ubac.ActionSelect)
	}
}

// Benchmark a role-derived decision
func BenchmarkCheckAccessViaRole(b *testing.B) {
	ctx := context.Background()
	dir := ubac.NewMemoryRoleDirectory()
	eng := benchEngine(b, ubac.WithRoleResolver(dir))
	_ = dir.AssignRole(ctx, "u1", "analyst")
	if _, err := eng.Grant(ctx, ubac.ResourceTable, "ORDERS", ubac.ActionSelect,
		ubac.RolePrincipal("analyst"), time.Time{}, nil); err != nil {
		b.Fatalf("grant: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = eng.CheckAccess(ctx, "u1", ubac.ResourceTable, "ORDERS", ubac.ActionSelect)
	}
}

// Benchmark a denied decision
func BenchmarkCheckAccessDenied(b *testing.B) {
	ctx := context.Background()
	eng := benchEngine(b)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = eng.CheckAccess(ctx, "u1", ubac.ResourceTable, "ORDERS", ubac.ActionSelect)
	}
}

// Benchmark a decision gated by an attribute rule
func BenchmarkCheckAccessWithRule(b *testing.B) {
	ctx := context.Background()
	eng := benchEngine(b, ubac.WithRules(ubac.Rule{
		Pattern:           "*SENSITIVE*",
		RequiredAttribute: "clearanceLevel",
		AllowedValues:     []string{"HIGH", "ADMIN"},
	}))
	if _, err := eng.Grant(ctx, ubac.ResourceProcedure, "SENSITIVE_REPORT", ubac.ActionExecute,
		ubac.UserPrincipal("u1"), time.Time{}, nil); err != nil {
		b.Fatalf("grant: %v", err)
	}
	if err := eng.SetAttribute(ctx, "u1", "clearanceLevel", "HIGH", time.Time{}); err != nil {
		b.Fatalf("set attribute: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = eng.CheckAccess(ctx, "u1", ubac.ResourceProcedure, "SENSITIVE_REPORT", ubac.ActionExecute)
	}
}

// Benchmark row filter derivation
func BenchmarkBuildFilteredQuery(b *testing.B) {
	ctx := context.Background()
	eng := benchEngine(b)
	if err := eng.SetAttribute(ctx, "u1", ubac.AttrDepartment, "FINANCE", time.Time{}); err != nil {
		b.Fatalf("set attribute: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = eng.BuildFilteredQuery(ctx, "u1", "orders", "SELECT * FROM orders")
	}
}

// Benchmark the permission report
func BenchmarkGetPermissions(b *testing.B) {
	ctx := context.Background()
	eng := benchEngine(b)
	for i := 0; i < 50; i++ {
		if _, err := eng.Grant(ctx, ubac.ResourceTable, fmt.Sprintf("TABLE_%d", i),
			ubac.ActionSelect, ubac.UserPrincipal("u1"), time.Time{}, nil); err != nil {
			b.Fatalf("grant: %v", err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = eng.GetPermissions(ctx, "u1")
	}
}

// Benchmark YAML snapshot encoding
func BenchmarkConfigYAMLEncode(b *testing.B) {
	cfg := generateSnapshot(100, 20)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = yaml.Marshal(cfg)
	}
}

// Benchmark YAML snapshot decoding
func BenchmarkConfigYAMLDecode(b *testing.B) {
	data, err := generateSnapshot(100, 20).ToYAML()
	if err != nil {
		b.Fatalf("encode: %v", err)
	}
	loader := ubac.NewConfigLoader()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = loader.LoadYAML(data)
	}
}

// Benchmark JSON snapshot decoding
func BenchmarkConfigJSONDecode(b *testing.B) {
	data, err := generateSnapshot(100, 20).ToJSON()
	if err != nil {
		b.Fatalf("encode: %v", err)
	}
	loader := ubac.NewConfigLoader()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = loader.LoadJSON(data)
	}
}
