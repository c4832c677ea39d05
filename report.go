package ubac

import (
	"context"
	"sort"
	"time"
)

// Reporter aggregates the permission and audit stores into the reporting
// views.
type Reporter struct {
	permissions PermissionStore
	audit       AuditLog
	resolver    RoleResolver
}

func NewReporter(p PermissionStore, a AuditLog, r RoleResolver) *Reporter {
	return &Reporter{permissions: p, audit: a, resolver: r}
}

// GetPermissions returns the principal's effective permissions: direct and
// role grants, active and unexpired, one row per
// (resource type, resource name, action) with the direct grant winning a
// collision, ordered by that tuple.
func (r *Reporter) GetPermissions(ctx context.Context, principal string) ([]PermissionRow, error) {
	roles, err := r.resolver.ResolveRoles(ctx, principal)
	if err != nil {
		return nil, unavailable("resolve roles", err)
	}
	grants, err := r.permissions.ListForPrincipal(ctx, principal, roles)
	if err != nil {
		return nil, unavailable("list grants", err)
	}
	out := make([]PermissionRow, 0, len(grants))
	for _, g := range grants {
		via := "direct"
		if g.PrincipalKind == PrincipalRole {
			via = "role:" + g.PrincipalName
		}
		out = append(out, PermissionRow{
			ResourceType: g.ResourceType,
			ResourceName: g.ResourceName,
			Action:       g.Action,
			GrantedVia:   via,
			ExpiresAt:    g.ExpiresAt,
			Condition:    g.Condition,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceType != out[j].ResourceType {
			return out[i].ResourceType < out[j].ResourceType
		}
		if out[i].ResourceName != out[j].ResourceName {
			return out[i].ResourceName < out[j].ResourceName
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

// GetAuditReport groups audit records in the window by
// (principal, resource type, resource name, action, granted, reason) with
// an occurrence count and the latest timestamp, ordered by last access
// descending.
func (r *Reporter) GetAuditReport(ctx context.Context, start, end time.Time, principalFilter string) ([]AuditReportRow, error) {
	recs, err := r.audit.Query(ctx, AuditFilter{
		Principal: principalFilter,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		return nil, unavailable("query audit log", err)
	}
	type groupKey struct {
		principal    string
		resourceType string
		resourceName string
		action       string
		granted      bool
		reason       string
	}
	groups := make(map[groupKey]*AuditReportRow)
	for _, rec := range recs {
		key := groupKey{rec.PrincipalName, rec.ResourceType, rec.ResourceName, rec.Action, rec.Granted, rec.Reason}
		row, ok := groups[key]
		if !ok {
			row = &AuditReportRow{
				PrincipalName: rec.PrincipalName,
				ResourceType:  rec.ResourceType,
				ResourceName:  rec.ResourceName,
				Action:        rec.Action,
				Granted:       rec.Granted,
				Reason:        rec.Reason,
			}
			groups[key] = row
		}
		row.Count++
		if rec.Timestamp.After(row.LastAccess) {
			row.LastAccess = rec.Timestamp
		}
	}
	out := make([]AuditReportRow, 0, len(groups))
	for _, row := range groups {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAccess.Equal(out[j].LastAccess) {
			return out[i].LastAccess.After(out[j].LastAccess)
		}
		if out[i].PrincipalName != out[j].PrincipalName {
			return out[i].PrincipalName < out[j].PrincipalName
		}
		return out[i].ResourceName < out[j].ResourceName
	})
	return out, nil
}
