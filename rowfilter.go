package ubac

import (
	"context"
	"fmt"
	"strings"

	"github.com/oarkflow/ubac/logger"
)

// RowFilterBuilder derives a row-level predicate for a principal/table
// pair from the attribute and permission stores and appends it to a base
// query.
type RowFilterBuilder struct {
	permissions PermissionStore
	attributes  AttributeStore
	logger      Logger
}

func NewRowFilterBuilder(p PermissionStore, a AttributeStore, log Logger) *RowFilterBuilder {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RowFilterBuilder{permissions: p, attributes: a, logger: log}
}

// Build appends the principal's row predicate to baseQuery. A condition
// stored on a direct TABLE grant replaces the department-derived
// predicate; the department predicate stays in force when no stored
// condition exists. With neither, the base query is returned unchanged.
func (b *RowFilterBuilder) Build(ctx context.Context, principal, tableName, baseQuery string) (string, error) {
	if principal == "" || tableName == "" || baseQuery == "" {
		return "", fmt.Errorf("%w: principal, table and base query are required", ErrInvalidArgument)
	}

	predicate := ""
	attr, err := b.attributes.Get(ctx, principal, AttrDepartment)
	if err != nil {
		return "", unavailable("get department attribute", err)
	}
	if attr != nil && attr.Value != "" {
		predicate = "department IS NULL OR department = " + sqlLiteral(attr.Value)
	}

	grants, err := b.permissions.ListForPrincipal(ctx, principal, nil)
	if err != nil {
		return "", unavailable("list grants", err)
	}
	for _, g := range grants {
		if g.ResourceType != ResourceTable || g.ResourceName != tableName || g.Condition == nil {
			continue
		}
		predicate = g.Condition.Render()
		b.logger.Debug("row filter from grant condition",
			"principal", principal, "table", tableName, "grant_id", g.ID)
		break
	}

	if predicate == "" {
		return baseQuery, nil
	}
	if containsWhere(baseQuery) {
		return baseQuery + " AND (" + predicate + ")", nil
	}
	return baseQuery + " WHERE (" + predicate + ")", nil
}

func containsWhere(query string) bool {
	return strings.Contains(strings.ToUpper(query), " WHERE ")
}
