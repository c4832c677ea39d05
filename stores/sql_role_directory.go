package stores

import (
	"context"

	"github.com/oarkflow/squealx"
)

// SQLRoleDirectory keeps principal->role membership in SQL (squealx) and
// doubles as the engine's role resolution collaborator.
type SQLRoleDirectory struct {
	db *squealx.DB
}

func NewSQLRoleDirectory(db *squealx.DB) *SQLRoleDirectory {
	return &SQLRoleDirectory{db: db}
}

func (s *SQLRoleDirectory) AssignRole(ctx context.Context, principal, role string) error {
	q := `INSERT OR IGNORE INTO role_members(principal_name, role_name) VALUES(:principal_name, :role_name)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"principal_name": principal, "role_name": role})
	return err
}

func (s *SQLRoleDirectory) UnassignRole(ctx context.Context, principal, role string) error {
	q := `DELETE FROM role_members WHERE principal_name = :principal_name AND role_name = :role_name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"principal_name": principal, "role_name": role})
	return err
}

func (s *SQLRoleDirectory) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	out := make([]string, 0)
	q := `SELECT role_name FROM role_members WHERE principal_name = :principal_name ORDER BY role_name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"principal_name": principal})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	for r.Next() {
		var role string
		if err := r.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}
