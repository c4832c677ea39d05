package ubac

import (
	"context"
	"testing"
	"time"
)

func appendRecord(t *testing.T, log AuditLog, principal, resourceName string, granted bool, reason string, ts time.Time) {
	t.Helper()
	err := log.Append(context.Background(), &AuditRecord{
		PrincipalName: principal,
		ResourceType:  ResourceTable,
		ResourceName:  resourceName,
		Action:        ActionSelect,
		Granted:       granted,
		Reason:        reason,
		Timestamp:     ts,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestAuditReportGrouping(t *testing.T) {
	ctx := context.Background()
	audit := NewMemoryAuditLog()
	rep := NewReporter(NewMemoryPermissionStore(), audit, NewMemoryRoleDirectory())

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	appendRecord(t, audit, "u1", "T1", true, "", base)
	appendRecord(t, audit, "u1", "T1", true, "", base.Add(time.Hour))
	appendRecord(t, audit, "u1", "T1", true, "", base.Add(2*time.Hour))
	appendRecord(t, audit, "u1", "T1", false, ReasonNoMatchingGrant, base.Add(30*time.Minute))
	appendRecord(t, audit, "u2", "T2", true, "", base.Add(3*time.Hour))

	rows, err := rep.GetAuditReport(ctx, time.Time{}, time.Time{}, "")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 groups, got %d: %+v", len(rows), rows)
	}

	// Ordered by last access, newest first
	if rows[0].PrincipalName != "u2" {
		t.Fatalf("expected u2 first, got %+v", rows[0])
	}
	if rows[1].PrincipalName != "u1" || !rows[1].Granted || rows[1].Count != 3 {
		t.Fatalf("expected the granted u1 group with count 3, got %+v", rows[1])
	}
	if !rows[1].LastAccess.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected the group's latest timestamp, got %v", rows[1].LastAccess)
	}
	if rows[2].Granted || rows[2].Reason != ReasonNoMatchingGrant || rows[2].Count != 1 {
		t.Fatalf("expected the denied u1 group, got %+v", rows[2])
	}
}

func TestAuditReportWindowAndPrincipal(t *testing.T) {
	ctx := context.Background()
	audit := NewMemoryAuditLog()
	rep := NewReporter(NewMemoryPermissionStore(), audit, NewMemoryRoleDirectory())

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	appendRecord(t, audit, "u1", "T1", true, "", base)
	appendRecord(t, audit, "u1", "T1", true, "", base.Add(48*time.Hour))
	appendRecord(t, audit, "u2", "T1", true, "", base.Add(time.Hour))

	rows, err := rep.GetAuditReport(ctx, base.Add(-time.Hour), base.Add(24*time.Hour), "u1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one group, got %d: %+v", len(rows), rows)
	}
	if rows[0].PrincipalName != "u1" || rows[0].Count != 1 {
		t.Fatalf("expected only the in-window u1 record, got %+v", rows[0])
	}
}

func TestAuditReportEmptyWindow(t *testing.T) {
	ctx := context.Background()
	rep := NewReporter(NewMemoryPermissionStore(), NewMemoryAuditLog(), NewMemoryRoleDirectory())
	rows, err := rep.GetAuditReport(ctx, time.Time{}, time.Time{}, "")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}

func TestGetPermissionsCarriesConditionAndExpiry(t *testing.T) {
	ctx := context.Background()
	perms := NewMemoryPermissionStore()
	rep := NewReporter(perms, NewMemoryAuditLog(), NewMemoryRoleDirectory())

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	cond := &Condition{Field: "region", Operator: "=", Value: "US"}
	if _, err := perms.Grant(ctx, &Grant{
		ResourceType:  ResourceTable,
		ResourceName:  "orders",
		Action:        ActionSelect,
		PrincipalKind: PrincipalUser,
		PrincipalName: "u1",
		Condition:     cond,
		ExpiresAt:     expiry,
		Active:        true,
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	rows, err := rep.GetPermissions(ctx, "u1")
	if err != nil {
		t.Fatalf("permissions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if !rows[0].ExpiresAt.Equal(expiry) {
		t.Fatalf("expected expiry %v, got %v", expiry, rows[0].ExpiresAt)
	}
	if rows[0].Condition == nil || rows[0].Condition.Render() != "region = 'US'" {
		t.Fatalf("expected the stored condition on the row, got %+v", rows[0].Condition)
	}
}
