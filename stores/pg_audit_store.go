package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/ubac"
)

// PGAuditStore appends and queries audit records in Postgres (pgx).
type PGAuditStore struct {
	q Querier
}

func NewPGAuditStore(q Querier) *PGAuditStore {
	return &PGAuditStore{q: q}
}

func (s *PGAuditStore) Append(ctx context.Context, rec *ubac.AuditRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	q := `INSERT INTO audit_log(id, correlation_id, timestamp, principal_name, resource_type, resource_name, action, granted, reason)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.q.Exec(ctx, q, id, rec.CorrelationID, ts, rec.PrincipalName, rec.ResourceType, rec.ResourceName, rec.Action, rec.Granted, rec.Reason)
	return err
}

func (s *PGAuditStore) Query(ctx context.Context, filter ubac.AuditFilter) ([]*ubac.AuditRecord, error) {
	q := `SELECT id, correlation_id, timestamp, principal_name, resource_type, resource_name, action, granted, reason FROM audit_log WHERE 1=1`
	p := &pgParams{}
	if filter.Principal != "" {
		q += ` AND principal_name = ` + p.add(filter.Principal)
	}
	if !filter.StartTime.IsZero() {
		q += ` AND timestamp >= ` + p.add(filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q += ` AND timestamp <= ` + p.add(filter.EndTime)
	}
	q += ` ORDER BY timestamp`
	if filter.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	rows, err := s.q.Query(ctx, q, p.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*ubac.AuditRecord, 0)
	for rows.Next() {
		var (
			rec ubac.AuditRecord
			ts  *time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &ts, &rec.PrincipalName, &rec.ResourceType, &rec.ResourceName, &rec.Action, &rec.Granted, &rec.Reason); err != nil {
			return nil, err
		}
		if ts != nil {
			rec.Timestamp = *ts
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
