package ubac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/ubac/utils"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Resource types commonly subject to grants.
const (
	ResourceTable     = "TABLE"
	ResourceView      = "VIEW"
	ResourceProcedure = "PROCEDURE"
	ResourceFunction  = "FUNCTION"
	ResourceWarehouse = "WAREHOUSE"
	ResourceDatabase  = "DATABASE"
	ResourceSchema    = "SCHEMA"
)

// Actions commonly granted on resources.
const (
	ActionSelect  = "SELECT"
	ActionInsert  = "INSERT"
	ActionUpdate  = "UPDATE"
	ActionDelete  = "DELETE"
	ActionExecute = "EXECUTE"
	ActionUsage   = "USAGE"
)

// Reasons attached to denied decisions. Granted decisions carry no reason.
const (
	ReasonInvalidParameters = "invalid parameters"
	ReasonNoMatchingGrant   = "no matching grant"
	ReasonAttributeVeto     = "attribute requirements not met"
)

// AttrDepartment is the attribute consulted by the row filter builder.
const AttrDepartment = "DEPARTMENT"

// PrincipalKind distinguishes user grants from role grants.
type PrincipalKind string

const (
	PrincipalUser PrincipalKind = "user"
	PrincipalRole PrincipalKind = "role"
)

// Principal names the user or role a grant applies to.
// Exactly one of User or Role must be set.
type Principal struct {
	User string `json:"user,omitempty" yaml:"user,omitempty"`
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
}

// UserPrincipal builds a user principal.
func UserPrincipal(name string) Principal { return Principal{User: name} }

// RolePrincipal builds a role principal.
func RolePrincipal(name string) Principal { return Principal{Role: name} }

// Validate enforces the exactly-one-of-user-role invariant.
func (p Principal) Validate() error {
	if p.User != "" && p.Role != "" {
		return fmt.Errorf("%w: principal has both user %q and role %q", ErrInvalidArgument, p.User, p.Role)
	}
	if p.User == "" && p.Role == "" {
		return fmt.Errorf("%w: principal requires a user or a role", ErrInvalidArgument)
	}
	return nil
}

// Kind reports whether the principal is a user or a role.
func (p Principal) Kind() PrincipalKind {
	if p.Role != "" {
		return PrincipalRole
	}
	return PrincipalUser
}

// Name returns whichever of user/role is set.
func (p Principal) Name() string {
	if p.Role != "" {
		return p.Role
	}
	return p.User
}

// GrantKey is the uniqueness key of a grant. Re-granting the same key
// updates the stored row rather than duplicating it.
type GrantKey struct {
	ResourceType  string
	ResourceName  string
	Action        string
	PrincipalKind PrincipalKind
	PrincipalName string
}

// Grant links a principal to a resource and action, optionally
// time-limited or narrowed by a row condition.
type Grant struct {
	ID            string        `json:"id,omitempty" yaml:"id,omitempty"`
	ResourceType  string        `json:"resource_type" yaml:"resource_type"`
	ResourceName  string        `json:"resource_name" yaml:"resource_name"`
	Action        string        `json:"action" yaml:"action"`
	PrincipalKind PrincipalKind `json:"principal_kind" yaml:"principal_kind"`
	PrincipalName string        `json:"principal_name" yaml:"principal_name"`
	Condition     *Condition    `json:"condition,omitempty" yaml:"condition,omitempty"`
	GrantedBy     string        `json:"granted_by,omitempty" yaml:"granted_by,omitempty"`
	GrantedAt     time.Time     `json:"granted_at" yaml:"granted_at"`
	ExpiresAt     time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Active        bool          `json:"active" yaml:"active"`
}

// Key returns the grant's uniqueness key.
func (g *Grant) Key() GrantKey {
	return GrantKey{
		ResourceType:  g.ResourceType,
		ResourceName:  g.ResourceName,
		Action:        g.Action,
		PrincipalKind: g.PrincipalKind,
		PrincipalName: g.PrincipalName,
	}
}

// IsExpired reports whether the grant's expiry has passed. Expiry is
// evaluated lazily at read time; expired rows stay in the store.
func (g *Grant) IsExpired() bool {
	return !g.ExpiresAt.IsZero() && time.Now().After(g.ExpiresAt)
}

// Usable reports whether the grant counts for an access decision.
func (g *Grant) Usable() bool {
	return g.Active && !g.IsExpired()
}

// Clone returns a shallow copy with its own Condition.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	dup := *g
	if g.Condition != nil {
		c := *g.Condition
		dup.Condition = &c
	}
	return &dup
}

// Validate checks the fields a store relies on.
func (g *Grant) Validate() error {
	if g.ResourceType == "" || g.ResourceName == "" || g.Action == "" {
		return fmt.Errorf("%w: grant requires resource type, resource name and action", ErrInvalidArgument)
	}
	if g.PrincipalName == "" {
		return fmt.Errorf("%w: grant requires a principal name", ErrInvalidArgument)
	}
	switch g.PrincipalKind {
	case PrincipalUser, PrincipalRole:
	default:
		return fmt.Errorf("%w: unknown principal kind %q", ErrInvalidArgument, g.PrincipalKind)
	}
	if g.Condition != nil {
		if err := g.Condition.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Attribute is a named, possibly time-limited fact about a principal.
type Attribute struct {
	PrincipalName string    `json:"principal_name" yaml:"principal_name"`
	Name          string    `json:"name" yaml:"name"`
	Value         string    `json:"value" yaml:"value"`
	ExpiresAt     time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	ModifiedBy    string    `json:"modified_by,omitempty" yaml:"modified_by,omitempty"`
	ModifiedAt    time.Time `json:"modified_at" yaml:"modified_at"`
}

// IsExpired reports whether the attribute's expiry has passed.
func (a *Attribute) IsExpired() bool {
	return !a.ExpiresAt.IsZero() && time.Now().After(a.ExpiresAt)
}

// Clone returns a copy of the attribute.
func (a *Attribute) Clone() *Attribute {
	if a == nil {
		return nil
	}
	dup := *a
	return &dup
}

// Validate checks the upsert key fields.
func (a *Attribute) Validate() error {
	if a.PrincipalName == "" || a.Name == "" {
		return fmt.Errorf("%w: attribute requires principal and name", ErrInvalidArgument)
	}
	return nil
}

// AuditRecord is one access decision, appended exactly once per decided
// check and never edited afterwards.
type AuditRecord struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	PrincipalName string    `json:"principal_name"`
	ResourceType  string    `json:"resource_type"`
	ResourceName  string    `json:"resource_name"`
	Action        string    `json:"action"`
	Granted       bool      `json:"granted"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuditFilter selects audit records for queries and reports.
type AuditFilter struct {
	Principal string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Matches reports whether a record passes the filter.
func (f AuditFilter) Matches(rec *AuditRecord) bool {
	if rec == nil {
		return false
	}
	if f.Principal != "" && rec.PrincipalName != f.Principal {
		return false
	}
	if !f.StartTime.IsZero() && rec.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && rec.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// Decision is the full outcome of an access check.
type Decision struct {
	Granted       bool      `json:"granted"`
	Reason        string    `json:"reason,omitempty"`
	PrincipalName string    `json:"principal_name"`
	Roles         []string  `json:"roles,omitempty"`
	ResourceType  string    `json:"resource_type"`
	ResourceName  string    `json:"resource_name"`
	Action        string    `json:"action"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Rule narrows access to resources whose name matches Pattern. A principal
// holding a grant on a matching resource must carry RequiredAttribute with
// a value in AllowedValues, otherwise the grant is vetoed. Rules never
// widen access. An optional Condition expression replaces the
// set-membership test; see Evaluator.
type Rule struct {
	Pattern           string   `json:"pattern" yaml:"pattern"`
	ResourceType      string   `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	RequiredAttribute string   `json:"required_attribute" yaml:"required_attribute"`
	AllowedValues     []string `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
	Condition         string   `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// AppliesTo reports whether the rule covers the given resource.
func (r *Rule) AppliesTo(resourceType, resourceName string) bool {
	if r.ResourceType != "" && !strings.EqualFold(r.ResourceType, resourceType) {
		return false
	}
	return utils.Match(resourceName, r.Pattern)
}

// PermissionRow is one entry of a permission report.
type PermissionRow struct {
	ResourceType string     `json:"resource_type"`
	ResourceName string     `json:"resource_name"`
	Action       string     `json:"action"`
	GrantedVia   string     `json:"granted_via"` // "direct" or "role:<name>"
	ExpiresAt    time.Time  `json:"expires_at,omitempty"`
	Condition    *Condition `json:"condition,omitempty"`
}

// AuditReportRow is one aggregated entry of an audit report.
type AuditReportRow struct {
	PrincipalName string    `json:"principal_name"`
	ResourceType  string    `json:"resource_type"`
	ResourceName  string    `json:"resource_name"`
	Action        string    `json:"action"`
	Granted       bool      `json:"granted"`
	Reason        string    `json:"reason,omitempty"`
	Count         int       `json:"count"`
	LastAccess    time.Time `json:"last_access"`
}

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// PermissionStore manages grant persistence. Lookups return only active,
// unexpired grants; expired rows are invisible but never pruned.
type PermissionStore interface {
	Grant(ctx context.Context, g *Grant) (string, error)
	Revoke(ctx context.Context, resourceType, resourceName, action string, p Principal) error
	LookupDirect(ctx context.Context, principal, resourceType, resourceName, action string) ([]*Grant, error)
	LookupByRoles(ctx context.Context, roles []string, resourceType, resourceName, action string) ([]*Grant, error)
	ListForPrincipal(ctx context.Context, principal string, roles []string) ([]*Grant, error)
}

// AttributeStore manages principal attributes with upsert semantics.
type AttributeStore interface {
	Set(ctx context.Context, a *Attribute) error
	Get(ctx context.Context, principal, name string) (*Attribute, error)
	List(ctx context.Context, principal string) ([]*Attribute, error)
}

// AuditLog records access decisions, append-only.
type AuditLog interface {
	Append(ctx context.Context, rec *AuditRecord) error
	Query(ctx context.Context, f AuditFilter) ([]*AuditRecord, error)
}

// RoleResolver reports the roles a principal currently holds. "No roles"
// is an empty slice with a nil error; an error return is an outage and is
// never treated as an empty role set.
type RoleResolver interface {
	ResolveRoles(ctx context.Context, principal string) ([]string, error)
}

// RoleDirectory is a mutable role membership source.
type RoleDirectory interface {
	RoleResolver
	AssignRole(ctx context.Context, principal, role string) error
	UnassignRole(ctx context.Context, principal, role string) error
}

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

// MemoryPermissionStore keeps grants in a map keyed by GrantKey.
type MemoryPermissionStore struct {
	mu     sync.RWMutex
	grants map[GrantKey]*Grant
}

func NewMemoryPermissionStore() *MemoryPermissionStore {
	return &MemoryPermissionStore{grants: make(map[GrantKey]*Grant)}
}

func (m *MemoryPermissionStore) Grant(ctx context.Context, g *Grant) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := g.Key()
	now := time.Now()
	if cur, ok := m.grants[key]; ok {
		cur.Condition = cloneCondition(g.Condition)
		cur.GrantedBy = g.GrantedBy
		cur.GrantedAt = now
		cur.ExpiresAt = g.ExpiresAt
		cur.Active = true
		return cur.ID, nil
	}
	stored := g.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.GrantedAt.IsZero() {
		stored.GrantedAt = now
	}
	stored.Active = true
	m.grants[key] = stored
	return stored.ID, nil
}

func (m *MemoryPermissionStore) Revoke(ctx context.Context, resourceType, resourceName, action string, p Principal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := GrantKey{
		ResourceType:  resourceType,
		ResourceName:  resourceName,
		Action:        action,
		PrincipalKind: p.Kind(),
		PrincipalName: p.Name(),
	}
	if cur, ok := m.grants[key]; ok {
		cur.Active = false
	}
	return nil
}

func (m *MemoryPermissionStore) LookupDirect(ctx context.Context, principal, resourceType, resourceName, action string) ([]*Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := GrantKey{
		ResourceType:  resourceType,
		ResourceName:  resourceName,
		Action:        action,
		PrincipalKind: PrincipalUser,
		PrincipalName: principal,
	}
	out := make([]*Grant, 0, 1)
	if g, ok := m.grants[key]; ok && g.Usable() {
		out = append(out, g.Clone())
	}
	return out, nil
}

func (m *MemoryPermissionStore) LookupByRoles(ctx context.Context, roles []string, resourceType, resourceName, action string) ([]*Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Grant, 0)
	for _, role := range roles {
		key := GrantKey{
			ResourceType:  resourceType,
			ResourceName:  resourceName,
			Action:        action,
			PrincipalKind: PrincipalRole,
			PrincipalName: role,
		}
		if g, ok := m.grants[key]; ok && g.Usable() {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (m *MemoryPermissionStore) ListForPrincipal(ctx context.Context, principal string, roles []string) ([]*Grant, error) {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	type dedupKey struct{ rt, rn, action string }
	picked := make(map[dedupKey]*Grant)
	for _, g := range m.grants {
		if !g.Usable() {
			continue
		}
		direct := g.PrincipalKind == PrincipalUser && g.PrincipalName == principal
		viaRole := false
		if g.PrincipalKind == PrincipalRole {
			_, viaRole = roleSet[g.PrincipalName]
		}
		if !direct && !viaRole {
			continue
		}
		key := dedupKey{g.ResourceType, g.ResourceName, g.Action}
		cur, ok := picked[key]
		// a direct grant wins over a role grant for the same tuple
		if !ok || (cur.PrincipalKind == PrincipalRole && direct) {
			picked[key] = g
		}
	}
	out := make([]*Grant, 0, len(picked))
	for _, g := range picked {
		out = append(out, g.Clone())
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

// MemoryAttributeStore keeps attributes per principal.
type MemoryAttributeStore struct {
	mu    sync.RWMutex
	attrs map[string]map[string]*Attribute // principal -> name -> attribute
}

func NewMemoryAttributeStore() *MemoryAttributeStore {
	return &MemoryAttributeStore{attrs: make(map[string]map[string]*Attribute)}
}

func (m *MemoryAttributeStore) Set(ctx context.Context, a *Attribute) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.attrs[a.PrincipalName]
	if !ok {
		byName = make(map[string]*Attribute)
		m.attrs[a.PrincipalName] = byName
	}
	now := time.Now()
	if cur, exists := byName[a.Name]; exists {
		cur.Value = a.Value
		cur.ExpiresAt = a.ExpiresAt
		cur.ModifiedBy = a.ModifiedBy
		cur.ModifiedAt = now
		return nil
	}
	stored := a.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.ModifiedAt = now
	byName[a.Name] = stored
	return nil
}

func (m *MemoryAttributeStore) Get(ctx context.Context, principal, name string) (*Attribute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if byName, ok := m.attrs[principal]; ok {
		if a, ok := byName[name]; ok && !a.IsExpired() {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryAttributeStore) List(ctx context.Context, principal string) ([]*Attribute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Attribute, 0)
	for _, a := range m.attrs[principal] {
		if a.IsExpired() {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MemoryAuditLog keeps audit records in order of arrival.
type MemoryAuditLog struct {
	mu      sync.Mutex
	records []*AuditRecord
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{records: make([]*AuditRecord, 0)}
}

func (m *MemoryAuditLog) Append(ctx context.Context, rec *AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := *rec
	if dup.ID == "" {
		dup.ID = uuid.NewString()
	}
	m.records = append(m.records, &dup)
	return nil
}

func (m *MemoryAuditLog) Query(ctx context.Context, f AuditFilter) ([]*AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*AuditRecord, 0)
	for _, rec := range m.records {
		if !f.Matches(rec) {
			continue
		}
		dup := *rec
		out = append(out, &dup)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// MemoryRoleDirectory keeps principal->roles membership in memory.
type MemoryRoleDirectory struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // principal -> set of roles
}

func NewMemoryRoleDirectory() *MemoryRoleDirectory {
	return &MemoryRoleDirectory{members: make(map[string]map[string]struct{})}
}

func (m *MemoryRoleDirectory) AssignRole(ctx context.Context, principal, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[principal]
	if !ok {
		set = make(map[string]struct{})
		m.members[principal] = set
	}
	set[role] = struct{}{}
	return nil
}

func (m *MemoryRoleDirectory) UnassignRole(ctx context.Context, principal, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.members[principal]; ok {
		delete(set, role)
	}
	return nil
}

func (m *MemoryRoleDirectory) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.members[principal]
	out := make([]string, 0, len(set))
	for role := range set {
		out = append(out, role)
	}
	sort.Strings(out)
	return out, nil
}

func cloneCondition(c *Condition) *Condition {
	if c == nil {
		return nil
	}
	dup := *c
	return &dup
}
