package ubac

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfigYAML = `version: 1
grants:
  - resource_type: PROCEDURE
    resource_name: sp_monthly_report
    action: EXECUTE
    principal_kind: user
    principal_name: alice
    granted_by: admin
  - resource_type: TABLE
    resource_name: SALES
    action: SELECT
    principal_kind: role
    principal_name: analyst
    condition:
      field: region
      operator: "="
      value: US
attributes:
  - principal_name: alice
    name: clearanceLevel
    value: HIGH
rules:
  - pattern: "*SENSITIVE*"
    required_attribute: clearanceLevel
    allowed_values: [HIGH, ADMIN]
memberships:
  - principal: bob
    role: analyst
`

func TestLoadYAMLConfig(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleConfigYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Version != 1 {
		t.Fatalf("expected version 1, got %d", cfg.Version)
	}
	if len(cfg.Grants) != 2 || len(cfg.Attributes) != 1 || len(cfg.Rules) != 1 || len(cfg.Memberships) != 1 {
		t.Fatalf("unexpected config shape: %+v", cfg)
	}
	if cfg.Grants[1].Condition == nil || cfg.Grants[1].Condition.Render() != "region = 'US'" {
		t.Fatalf("expected the grant condition to survive, got %+v", cfg.Grants[1].Condition)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	loader := NewConfigLoader()
	cfg, err := loader.LoadYAML([]byte(sampleConfigYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	back, err := loader.LoadJSON(data)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(back.Grants) != len(cfg.Grants) || len(back.Rules) != len(cfg.Rules) {
		t.Fatalf("round trip lost entries: %+v", back)
	}
	if back.Grants[0].PrincipalName != "alice" || back.Grants[0].GrantedBy != "admin" {
		t.Fatalf("round trip mangled grant: %+v", back.Grants[0])
	}
}

func TestLoadFilePicksFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ubac.yaml")
	if err := os.WriteFile(path, []byte(sampleConfigYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := NewConfigLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if len(cfg.Grants) != 2 {
		t.Fatalf("unexpected grants: %+v", cfg.Grants)
	}

	if _, err := NewConfigLoader().LoadFile(filepath.Join(dir, "ubac.toml")); err == nil {
		t.Fatalf("expected an error for an unsupported extension")
	}
}

func TestSaveConfigFile(t *testing.T) {
	cfg := &Config{
		Version: 1,
		Grants: []*Grant{{
			ResourceType:  ResourceTable,
			ResourceName:  "T1",
			Action:        ActionSelect,
			PrincipalKind: PrincipalUser,
			PrincipalName: "u1",
		}},
	}
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := SaveConfigFile(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	back, err := NewConfigLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(back.Grants) != 1 || back.Grants[0].ResourceName != "T1" {
		t.Fatalf("unexpected reloaded config: %+v", back)
	}
}

func TestApplyConfig(t *testing.T) {
	ctx := context.Background()
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleConfigYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	eng, err := New()
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Direct grant from the snapshot
	granted, err := eng.CheckAccess(ctx, "alice", ResourceProcedure, "sp_monthly_report", ActionExecute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !granted {
		t.Fatalf("expected the snapshot grant to allow")
	}

	// Membership plus role grant from the snapshot
	granted, err = eng.CheckAccess(ctx, "bob", ResourceTable, "SALES", ActionSelect)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !granted {
		t.Fatalf("expected the snapshot membership to allow")
	}

	// Rules from the snapshot are installed
	if got := eng.Rules(); len(got) != 1 || got[0].Pattern != "*SENSITIVE*" {
		t.Fatalf("expected the snapshot rule installed, got %+v", got)
	}

	// Applying twice upserts rather than duplicating
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	perms, err := eng.GetPermissions(ctx, "alice")
	if err != nil {
		t.Fatalf("permissions: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("expected one permission row after re-apply, got %d", len(perms))
	}
}

func TestApplyConfigReadOnlyResolver(t *testing.T) {
	ctx := context.Background()
	eng, err := New(WithRoleResolver(failingResolver{}))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	cfg := &Config{Memberships: []RoleMembership{{Principal: "u1", Role: "analyst"}}}
	if err := eng.ApplyConfig(ctx, cfg); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for a read-only resolver, got %v", err)
	}
}
