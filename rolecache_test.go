package ubac

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingResolver struct {
	dir   *MemoryRoleDirectory
	calls atomic.Int64
	fail  atomic.Bool
}

func (c *countingResolver) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	c.calls.Add(1)
	if c.fail.Load() {
		return nil, errors.New("directory unreachable")
	}
	return c.dir.ResolveRoles(ctx, principal)
}

func TestCachingResolverMemoizes(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryRoleDirectory()
	_ = dir.AssignRole(ctx, "u1", "analyst")
	inner := &countingResolver{dir: dir}

	cached, err := NewCachingRoleResolver(inner, RoleCacheConfig{TTL: time.Minute})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer cached.Close()

	roles, err := cached.ResolveRoles(ctx, "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(roles) != 1 || roles[0] != "analyst" {
		t.Fatalf("unexpected roles: %v", roles)
	}
	cached.Wait()

	if _, err := cached.ResolveRoles(ctx, "u1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("expected the second resolution served from cache, inner calls = %d", got)
	}
}

func TestCachingResolverInvalidate(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryRoleDirectory()
	_ = dir.AssignRole(ctx, "u1", "analyst")
	inner := &countingResolver{dir: dir}

	cached, err := NewCachingRoleResolver(inner, RoleCacheConfig{TTL: time.Minute})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer cached.Close()

	if _, err := cached.ResolveRoles(ctx, "u1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	cached.Wait()

	// A membership change followed by Invalidate is visible immediately
	_ = dir.AssignRole(ctx, "u1", "auditor")
	cached.Invalidate("u1")

	roles, err := cached.ResolveRoles(ctx, "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected the fresh membership after invalidation, got %v", roles)
	}
	if got := inner.calls.Load(); got != 2 {
		t.Fatalf("expected a second inner call, got %d", got)
	}
}

func TestCachingResolverNeverCachesErrors(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryRoleDirectory()
	_ = dir.AssignRole(ctx, "u1", "analyst")
	inner := &countingResolver{dir: dir}
	inner.fail.Store(true)

	cached, err := NewCachingRoleResolver(inner, RoleCacheConfig{TTL: time.Minute})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer cached.Close()

	if _, err := cached.ResolveRoles(ctx, "u1"); err == nil {
		t.Fatalf("expected the outage to surface")
	}
	cached.Wait()

	// Recovery is visible on the next call, not masked by a cached error
	inner.fail.Store(false)
	roles, err := cached.ResolveRoles(ctx, "u1")
	if err != nil {
		t.Fatalf("resolve after recovery: %v", err)
	}
	if len(roles) != 1 || roles[0] != "analyst" {
		t.Fatalf("unexpected roles after recovery: %v", roles)
	}
}

func TestCachingResolverBehindEngine(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryRoleDirectory()
	_ = dir.AssignRole(ctx, "u1", "analyst")
	inner := &countingResolver{dir: dir}
	cached, err := NewCachingRoleResolver(inner, RoleCacheConfig{TTL: time.Minute})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer cached.Close()

	eng, err := New(WithRoleResolver(cached))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := eng.Grant(ctx, ResourceTable, "SALES", ActionSelect, RolePrincipal("analyst"), time.Time{}, nil); err != nil {
		t.Fatalf("grant: %v", err)
	}

	for i := 0; i < 3; i++ {
		granted, err := eng.CheckAccess(ctx, "u1", ResourceTable, "SALES", ActionSelect)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !granted {
			t.Fatalf("expected allow via cached role")
		}
		cached.Wait()
	}

	// Decisions are never cached, only resolutions: every check audits
	recs, err := eng.GetAuditTrail(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(recs))
	}
	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("expected one inner resolution, got %d", got)
	}
}
