package stores

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/ubac"
)

// SQLPermissionStore persists grants in SQL (squealx).
type SQLPermissionStore struct {
	db *squealx.DB
}

func NewSQLPermissionStore(db *squealx.DB) *SQLPermissionStore {
	return &SQLPermissionStore{db: db}
}

func (s *SQLPermissionStore) Grant(ctx context.Context, g *ubac.Grant) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	grantedAt := g.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = time.Now()
	}
	q := `INSERT INTO permission_grants(id, resource_type, resource_name, action, principal_kind, principal_name, condition_json, granted_by, granted_at, expires_at, active)
VALUES(:id, :resource_type, :resource_name, :action, :principal_kind, :principal_name, :condition_json, :granted_by, :granted_at, :expires_at, 1)
ON CONFLICT(resource_type, resource_name, action, principal_kind, principal_name) DO UPDATE SET
condition_json = excluded.condition_json,
granted_by = excluded.granted_by,
granted_at = excluded.granted_at,
expires_at = excluded.expires_at,
active = 1`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             uuid.NewString(),
		"resource_type":  g.ResourceType,
		"resource_name":  g.ResourceName,
		"action":         g.Action,
		"principal_kind": string(g.PrincipalKind),
		"principal_name": g.PrincipalName,
		"condition_json": conditionToJSON(g.Condition),
		"granted_by":     g.GrantedBy,
		"granted_at":     grantedAt,
		"expires_at":     sqlNullTimeOrNil(g.ExpiresAt),
	})
	if err != nil {
		return "", err
	}
	// the id survives upserts, read it back
	idQ := `SELECT id FROM permission_grants WHERE resource_type = :resource_type AND resource_name = :resource_name AND action = :action AND principal_kind = :principal_kind AND principal_name = :principal_name`
	r, err := s.db.NamedQueryContext(ctx, idQ, map[string]any{
		"resource_type":  g.ResourceType,
		"resource_name":  g.ResourceName,
		"action":         g.Action,
		"principal_kind": string(g.PrincipalKind),
		"principal_name": g.PrincipalName,
	})
	if err != nil {
		return "", err
	}
	defer r.Close()
	if !r.Next() {
		return "", fmt.Errorf("grant row not found after upsert")
	}
	var id string
	if err := r.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLPermissionStore) Revoke(ctx context.Context, resourceType, resourceName, action string, p ubac.Principal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	q := `UPDATE permission_grants SET active = 0 WHERE resource_type = :resource_type AND resource_name = :resource_name AND action = :action AND principal_kind = :principal_kind AND principal_name = :principal_name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"resource_type":  resourceType,
		"resource_name":  resourceName,
		"action":         action,
		"principal_kind": string(p.Kind()),
		"principal_name": p.Name(),
	})
	return err
}

func (s *SQLPermissionStore) LookupDirect(ctx context.Context, principal, resourceType, resourceName, action string) ([]*ubac.Grant, error) {
	q := grantColumns + ` FROM permission_grants WHERE resource_type = :resource_type AND resource_name = :resource_name AND action = :action AND principal_kind = 'user' AND principal_name = :principal_name AND active = 1`
	return s.queryGrants(ctx, q, map[string]any{
		"resource_type":  resourceType,
		"resource_name":  resourceName,
		"action":         action,
		"principal_name": principal,
	})
}

func (s *SQLPermissionStore) LookupByRoles(ctx context.Context, roles []string, resourceType, resourceName, action string) ([]*ubac.Grant, error) {
	if len(roles) == 0 {
		return []*ubac.Grant{}, nil
	}
	params := map[string]any{
		"resource_type": resourceType,
		"resource_name": resourceName,
		"action":        action,
	}
	placeholders := make([]string, 0, len(roles))
	for i, role := range roles {
		name := fmt.Sprintf("role%d", i)
		placeholders = append(placeholders, ":"+name)
		params[name] = role
	}
	q := grantColumns + ` FROM permission_grants WHERE resource_type = :resource_type AND resource_name = :resource_name AND action = :action AND principal_kind = 'role' AND principal_name IN (` + strings.Join(placeholders, ", ") + `) AND active = 1`
	return s.queryGrants(ctx, q, params)
}

func (s *SQLPermissionStore) ListForPrincipal(ctx context.Context, principal string, roles []string) ([]*ubac.Grant, error) {
	params := map[string]any{"principal_name": principal}
	clause := `(principal_kind = 'user' AND principal_name = :principal_name)`
	if len(roles) > 0 {
		placeholders := make([]string, 0, len(roles))
		for i, role := range roles {
			name := fmt.Sprintf("role%d", i)
			placeholders = append(placeholders, ":"+name)
			params[name] = role
		}
		clause += ` OR (principal_kind = 'role' AND principal_name IN (` + strings.Join(placeholders, ", ") + `))`
	}
	q := grantColumns + ` FROM permission_grants WHERE (` + clause + `) AND active = 1 ORDER BY resource_type, resource_name, action`
	grants, err := s.queryGrants(ctx, q, params)
	if err != nil {
		return nil, err
	}
	// one row per (type, name, action), the direct grant wins a collision
	type dedupKey struct{ rt, rn, action string }
	picked := make(map[dedupKey]*ubac.Grant)
	order := make([]dedupKey, 0, len(grants))
	for _, g := range grants {
		key := dedupKey{g.ResourceType, g.ResourceName, g.Action}
		cur, ok := picked[key]
		if !ok {
			picked[key] = g
			order = append(order, key)
			continue
		}
		if cur.PrincipalKind == ubac.PrincipalRole && g.PrincipalKind == ubac.PrincipalUser {
			picked[key] = g
		}
	}
	out := make([]*ubac.Grant, 0, len(order))
	for _, key := range order {
		out = append(out, picked[key])
	}
	return out, nil
}

const grantColumns = `SELECT id, resource_type, resource_name, action, principal_kind, principal_name, condition_json, granted_by, granted_at, expires_at, active`

func (s *SQLPermissionStore) queryGrants(ctx context.Context, q string, params map[string]any) ([]*ubac.Grant, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*ubac.Grant, 0)
	for r.Next() {
		var id, resourceType, resourceName, action, principalKind, principalName string
		var conditionRaw, grantedByRaw, grantedAtRaw, expiresAtRaw interface{}
		var activeInt int
		if err := r.Scan(&id, &resourceType, &resourceName, &action, &principalKind, &principalName, &conditionRaw, &grantedByRaw, &grantedAtRaw, &expiresAtRaw, &activeInt); err != nil {
			return nil, err
		}
		g := &ubac.Grant{
			ID:            id,
			ResourceType:  resourceType,
			ResourceName:  resourceName,
			Action:        action,
			PrincipalKind: ubac.PrincipalKind(principalKind),
			PrincipalName: principalName,
			Condition:     conditionFromJSON(scanString(conditionRaw)),
			GrantedBy:     scanString(grantedByRaw),
			GrantedAt:     scanTime(grantedAtRaw),
			ExpiresAt:     scanTime(expiresAtRaw),
			Active:        activeInt != 0,
		}
		// expiry stays lazy: filter here, never delete
		if g.IsExpired() {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}
