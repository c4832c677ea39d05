package stores

import (
	"context"

	"github.com/google/uuid"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/ubac"
)

// SQLAuditStore persists audit records in SQL (squealx). Appends are pure
// inserts, safe under concurrent writers.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) Append(ctx context.Context, rec *ubac.AuditRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	q := `INSERT INTO audit_log(id, correlation_id, principal_name, resource_type, resource_name, action, granted, reason, timestamp)
VALUES(:id, :correlation_id, :principal_name, :resource_type, :resource_name, :action, :granted, :reason, :timestamp)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             id,
		"correlation_id": rec.CorrelationID,
		"principal_name": rec.PrincipalName,
		"resource_type":  rec.ResourceType,
		"resource_name":  rec.ResourceName,
		"action":         rec.Action,
		"granted":        boolToInt(rec.Granted),
		"reason":         rec.Reason,
		"timestamp":      rec.Timestamp,
	})
	return err
}

func (s *SQLAuditStore) Query(ctx context.Context, filter ubac.AuditFilter) ([]*ubac.AuditRecord, error) {
	q := `SELECT id, correlation_id, principal_name, resource_type, resource_name, action, granted, reason, timestamp FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.Principal != "" {
		q += " AND principal_name = :principal_name"
		params["principal_name"] = filter.Principal
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY timestamp"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*ubac.AuditRecord, 0)
	for r.Next() {
		var id, principalName, resourceType, resourceName, action string
		var correlationRaw, reasonRaw, timestampRaw interface{}
		var grantedInt int
		if err := r.Scan(&id, &correlationRaw, &principalName, &resourceType, &resourceName, &action, &grantedInt, &reasonRaw, &timestampRaw); err != nil {
			return nil, err
		}
		out = append(out, &ubac.AuditRecord{
			ID:            id,
			CorrelationID: scanString(correlationRaw),
			PrincipalName: principalName,
			ResourceType:  resourceType,
			ResourceName:  resourceName,
			Action:        action,
			Granted:       grantedInt != 0,
			Reason:        scanString(reasonRaw),
			Timestamp:     scanTime(timestampRaw),
		})
	}
	return out, nil
}
