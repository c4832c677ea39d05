package stores

import (
	"context"
	"time"

	"github.com/oarkflow/ubac"
)

// PGAttributeStore persists principal attributes in Postgres (pgx).
type PGAttributeStore struct {
	q Querier
}

func NewPGAttributeStore(q Querier) *PGAttributeStore {
	return &PGAttributeStore{q: q}
}

func (s *PGAttributeStore) Set(ctx context.Context, a *ubac.Attribute) error {
	if err := a.Validate(); err != nil {
		return err
	}
	now := time.Now()
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	var expiresAt *time.Time
	if !a.ExpiresAt.IsZero() {
		t := a.ExpiresAt
		expiresAt = &t
	}
	q := `INSERT INTO principal_attributes(principal_name, name, value, expires_at, created_by, created_at, modified_by, modified_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (principal_name, name) DO UPDATE SET
value = EXCLUDED.value,
expires_at = EXCLUDED.expires_at,
modified_by = EXCLUDED.modified_by,
modified_at = EXCLUDED.modified_at`
	_, err := s.q.Exec(ctx, q, a.PrincipalName, a.Name, a.Value, expiresAt, a.CreatedBy, createdAt, a.ModifiedBy, now)
	return err
}

const pgAttributeColumns = `SELECT principal_name, name, value, expires_at, created_by, created_at, modified_by, modified_at`

func (s *PGAttributeStore) Get(ctx context.Context, principal, name string) (*ubac.Attribute, error) {
	q := pgAttributeColumns + ` FROM principal_attributes WHERE principal_name = $1 AND name = $2`
	attrs, err := s.queryAttributes(ctx, q, principal, name)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs[0], nil
}

func (s *PGAttributeStore) List(ctx context.Context, principal string) ([]*ubac.Attribute, error) {
	q := pgAttributeColumns + ` FROM principal_attributes WHERE principal_name = $1 ORDER BY name`
	return s.queryAttributes(ctx, q, principal)
}

func (s *PGAttributeStore) queryAttributes(ctx context.Context, q string, args ...any) ([]*ubac.Attribute, error) {
	rows, err := s.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*ubac.Attribute, 0)
	for rows.Next() {
		var (
			principalName, name, value, createdBy, modifiedBy string
			expiresAt, createdAt, modifiedAt                  *time.Time
		)
		if err := rows.Scan(&principalName, &name, &value, &expiresAt, &createdBy, &createdAt, &modifiedBy, &modifiedAt); err != nil {
			return nil, err
		}
		a := &ubac.Attribute{
			PrincipalName: principalName,
			Name:          name,
			Value:         value,
			CreatedBy:     createdBy,
			ModifiedBy:    modifiedBy,
		}
		if expiresAt != nil {
			a.ExpiresAt = *expiresAt
		}
		if createdAt != nil {
			a.CreatedAt = *createdAt
		}
		if modifiedAt != nil {
			a.ModifiedAt = *modifiedAt
		}
		if a.IsExpired() {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
