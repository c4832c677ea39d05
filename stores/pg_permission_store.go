package stores

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/ubac"
)

// PGPermissionStore persists grants in Postgres (pgx).
type PGPermissionStore struct {
	q Querier
}

func NewPGPermissionStore(q Querier) *PGPermissionStore {
	return &PGPermissionStore{q: q}
}

func (s *PGPermissionStore) Grant(ctx context.Context, g *ubac.Grant) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	grantedAt := g.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = time.Now()
	}
	var expiresAt *time.Time
	if !g.ExpiresAt.IsZero() {
		t := g.ExpiresAt
		expiresAt = &t
	}
	q := `INSERT INTO permission_grants(id, resource_type, resource_name, action, principal_kind, principal_name, condition_json, granted_by, granted_at, expires_at, active)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
ON CONFLICT (resource_type, resource_name, action, principal_kind, principal_name) DO UPDATE SET
condition_json = EXCLUDED.condition_json,
granted_by = EXCLUDED.granted_by,
granted_at = EXCLUDED.granted_at,
expires_at = EXCLUDED.expires_at,
active = TRUE
RETURNING id`
	var id string
	err := s.q.QueryRow(ctx, q,
		uuid.NewString(), g.ResourceType, g.ResourceName, g.Action,
		string(g.PrincipalKind), g.PrincipalName, conditionToJSON(g.Condition),
		g.GrantedBy, grantedAt, expiresAt,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PGPermissionStore) Revoke(ctx context.Context, resourceType, resourceName, action string, p ubac.Principal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	q := `UPDATE permission_grants SET active = FALSE WHERE resource_type = $1 AND resource_name = $2 AND action = $3 AND principal_kind = $4 AND principal_name = $5`
	_, err := s.q.Exec(ctx, q, resourceType, resourceName, action, string(p.Kind()), p.Name())
	return err
}

const pgGrantColumns = `SELECT id, resource_type, resource_name, action, principal_kind, principal_name, condition_json, granted_by, granted_at, expires_at, active`

func (s *PGPermissionStore) LookupDirect(ctx context.Context, principal, resourceType, resourceName, action string) ([]*ubac.Grant, error) {
	q := pgGrantColumns + ` FROM permission_grants WHERE resource_type = $1 AND resource_name = $2 AND action = $3 AND principal_kind = 'user' AND principal_name = $4 AND active`
	return s.queryGrants(ctx, q, resourceType, resourceName, action, principal)
}

func (s *PGPermissionStore) LookupByRoles(ctx context.Context, roles []string, resourceType, resourceName, action string) ([]*ubac.Grant, error) {
	if len(roles) == 0 {
		return []*ubac.Grant{}, nil
	}
	q := pgGrantColumns + ` FROM permission_grants WHERE resource_type = $1 AND resource_name = $2 AND action = $3 AND principal_kind = 'role' AND principal_name = ANY($4) AND active`
	return s.queryGrants(ctx, q, resourceType, resourceName, action, roles)
}

func (s *PGPermissionStore) ListForPrincipal(ctx context.Context, principal string, roles []string) ([]*ubac.Grant, error) {
	pb := &pgParams{}
	clause := `(principal_kind = 'user' AND principal_name = ` + pb.add(principal) + `)`
	if len(roles) > 0 {
		clause += ` OR (principal_kind = 'role' AND principal_name = ANY(` + pb.add(roles) + `))`
	}
	q := pgGrantColumns + ` FROM permission_grants WHERE (` + clause + `) AND active ORDER BY resource_type, resource_name, action`
	grants, err := s.queryGrants(ctx, q, pb.args...)
	if err != nil {
		return nil, err
	}
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

func (s *PGPermissionStore) queryGrants(ctx context.Context, q string, args ...any) ([]*ubac.Grant, error) {
	rows, err := s.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*ubac.Grant, 0)
	for rows.Next() {
		var (
			id, resourceType, resourceName, action, principalKind, principalName, grantedBy string
			conditionJSON                                                                   []byte
			grantedAt, expiresAt                                                            *time.Time
			active                                                                          bool
		)
		if err := rows.Scan(&id, &resourceType, &resourceName, &action, &principalKind, &principalName, &conditionJSON, &grantedBy, &grantedAt, &expiresAt, &active); err != nil {
			return nil, err
		}
		g := &ubac.Grant{
			ID:            id,
			ResourceType:  resourceType,
			ResourceName:  resourceName,
			Action:        action,
			PrincipalKind: ubac.PrincipalKind(principalKind),
			PrincipalName: principalName,
			Condition:     conditionFromJSON(strings.TrimSpace(string(conditionJSON))),
			GrantedBy:     grantedBy,
			Active:        active,
		}
		if grantedAt != nil {
			g.GrantedAt = *grantedAt
		}
		if expiresAt != nil {
			g.ExpiresAt = *expiresAt
		}
		if g.IsExpired() {
			continue
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
