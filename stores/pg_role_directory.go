package stores

import (
	"context"
)

// PGRoleDirectory keeps principal->role membership in Postgres (pgx).
type PGRoleDirectory struct {
	q Querier
}

func NewPGRoleDirectory(q Querier) *PGRoleDirectory {
	return &PGRoleDirectory{q: q}
}

func (s *PGRoleDirectory) AssignRole(ctx context.Context, principal, role string) error {
	q := `INSERT INTO role_members(principal_name, role_name) VALUES($1, $2) ON CONFLICT DO NOTHING`
	_, err := s.q.Exec(ctx, q, principal, role)
	return err
}

func (s *PGRoleDirectory) UnassignRole(ctx context.Context, principal, role string) error {
	q := `DELETE FROM role_members WHERE principal_name = $1 AND role_name = $2`
	_, err := s.q.Exec(ctx, q, principal, role)
	return err
}

func (s *PGRoleDirectory) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT role_name FROM role_members WHERE principal_name = $1 ORDER BY role_name`, principal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}
