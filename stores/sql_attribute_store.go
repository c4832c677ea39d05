package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/ubac"
)

// SQLAttributeStore persists principal attributes in SQL (squealx).
// The primary key on (principal_name, name) makes Set an atomic upsert.
type SQLAttributeStore struct {
	db *squealx.DB
}

func NewSQLAttributeStore(db *squealx.DB) *SQLAttributeStore {
	return &SQLAttributeStore{db: db}
}

func (s *SQLAttributeStore) Set(ctx context.Context, a *ubac.Attribute) error {
	if err := a.Validate(); err != nil {
		return err
	}
	now := time.Now()
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	q := `INSERT INTO principal_attributes(principal_name, name, value, expires_at, created_by, created_at, modified_by, modified_at)
VALUES(:principal_name, :name, :value, :expires_at, :created_by, :created_at, :modified_by, :modified_at)
ON CONFLICT(principal_name, name) DO UPDATE SET
value = excluded.value,
expires_at = excluded.expires_at,
modified_by = excluded.modified_by,
modified_at = excluded.modified_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"principal_name": a.PrincipalName,
		"name":           a.Name,
		"value":          a.Value,
		"expires_at":     sqlNullTimeOrNil(a.ExpiresAt),
		"created_by":     a.CreatedBy,
		"created_at":     createdAt,
		"modified_by":    a.ModifiedBy,
		"modified_at":    now,
	})
	return err
}

func (s *SQLAttributeStore) Get(ctx context.Context, principal, name string) (*ubac.Attribute, error) {
	q := attributeColumns + ` FROM principal_attributes WHERE principal_name = :principal_name AND name = :name`
	attrs, err := s.queryAttributes(ctx, q, map[string]any{"principal_name": principal, "name": name})
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs[0], nil
}

func (s *SQLAttributeStore) List(ctx context.Context, principal string) ([]*ubac.Attribute, error) {
	q := attributeColumns + ` FROM principal_attributes WHERE principal_name = :principal_name ORDER BY name`
	return s.queryAttributes(ctx, q, map[string]any{"principal_name": principal})
}

const attributeColumns = `SELECT principal_name, name, value, expires_at, created_by, created_at, modified_by, modified_at`

func (s *SQLAttributeStore) queryAttributes(ctx context.Context, q string, params map[string]any) ([]*ubac.Attribute, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*ubac.Attribute, 0)
	for r.Next() {
		var principalName, name, value string
		var expiresRaw, createdByRaw, createdAtRaw, modifiedByRaw, modifiedAtRaw interface{}
		if err := r.Scan(&principalName, &name, &value, &expiresRaw, &createdByRaw, &createdAtRaw, &modifiedByRaw, &modifiedAtRaw); err != nil {
			return nil, err
		}
		a := &ubac.Attribute{
			PrincipalName: principalName,
			Name:          name,
			Value:         value,
			ExpiresAt:     scanTime(expiresRaw),
			CreatedBy:     scanString(createdByRaw),
			CreatedAt:     scanTime(createdAtRaw),
			ModifiedBy:    scanString(modifiedByRaw),
			ModifiedAt:    scanTime(modifiedAtRaw),
		}
		// expiry is evaluated at read time, expired rows stay put
		if a.IsExpired() {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
