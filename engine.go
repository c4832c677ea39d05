package ubac

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/ubac/logger"
)

// ============================================================================
// ENGINE
// ============================================================================

// Option configures the Engine.
type Option func(*Engine) error

// Engine evaluates access decisions over the injected stores. It holds no
// per-request state; every check is independent apart from its store reads
// and its audit side effect.
type Engine struct {
	permissions   PermissionStore
	attributes    AttributeStore
	audit         AuditLog
	resolver      RoleResolver
	evaluator     atomic.Pointer[RuleEvaluator]
	reporter      *Reporter
	rowFilter     *RowFilterBuilder
	logger        Logger
	clock         func() time.Time
	correlationID CorrelationIDFunc

	initialRules []Rule
}

// WithPermissionStore installs the grant store.
func WithPermissionStore(s PermissionStore) Option {
	return func(e *Engine) error {
		if s != nil {
			e.permissions = s
		}
		return nil
	}
}

// WithAttributeStore installs the attribute store.
func WithAttributeStore(s AttributeStore) Option {
	return func(e *Engine) error {
		if s != nil {
			e.attributes = s
		}
		return nil
	}
}

// WithAuditLog installs the audit log.
func WithAuditLog(l AuditLog) Option {
	return func(e *Engine) error {
		if l != nil {
			e.audit = l
		}
		return nil
	}
}

// WithRoleResolver installs the role resolution collaborator.
func WithRoleResolver(r RoleResolver) Option {
	return func(e *Engine) error {
		if r != nil {
			e.resolver = r
		}
		return nil
	}
}

// WithRules installs the attribute rule set.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) error {
		e.initialRules = append(e.initialRules, rules...)
		return nil
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now != nil {
			e.clock = now
		}
		return nil
	}
}

// New builds an Engine. Stores default to the in-memory implementations
// and the role directory to an empty in-memory one, so a bare New() yields
// a working engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		permissions:   NewMemoryPermissionStore(),
		attributes:    NewMemoryAttributeStore(),
		audit:         NewMemoryAuditLog(),
		resolver:      NewMemoryRoleDirectory(),
		logger:        logger.NewNullLogger(),
		clock:         time.Now,
		correlationID: uuid.NewString,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if err := e.SetRules(e.initialRules); err != nil {
		return nil, err
	}
	e.initialRules = nil
	e.reporter = NewReporter(e.permissions, e.audit, e.resolver)
	e.rowFilter = NewRowFilterBuilder(e.permissions, e.attributes, e.logger)
	return e, nil
}

// SetRules replaces the attribute rule set. Compilation errors leave the
// previous rules in place.
func (e *Engine) SetRules(rules []Rule) error {
	ev, err := NewRuleEvaluator(e.attributes, rules, e.logger)
	if err != nil {
		return err
	}
	e.evaluator.Store(ev)
	return nil
}

// Rules returns the currently installed attribute rules.
func (e *Engine) Rules() []Rule {
	return e.evaluator.Load().Rules()
}

// CheckAccess decides whether the principal may perform action on the
// resource and appends exactly one audit record for the decision. When the
// audit append fails the decision is still returned, together with an
// *AuditWriteError.
func (e *Engine) CheckAccess(ctx context.Context, principal, resourceType, resourceName, action string) (bool, error) {
	d, err := e.decide(ctx, principal, resourceType, resourceName, action)
	if err != nil {
		return false, err
	}
	rec := &AuditRecord{
		ID:            uuid.NewString(),
		CorrelationID: d.CorrelationID,
		PrincipalName: d.PrincipalName,
		ResourceType:  d.ResourceType,
		ResourceName:  d.ResourceName,
		Action:        d.Action,
		Granted:       d.Granted,
		Reason:        d.Reason,
		Timestamp:     d.Timestamp,
	}
	if err := e.audit.Append(ctx, rec); err != nil {
		e.logger.Error("audit append failed",
			"principal", d.PrincipalName, "resource", d.ResourceName,
			"correlation_id", d.CorrelationID, "error", err)
		return d.Granted, &AuditWriteError{Decision: d, Err: err}
	}
	return d.Granted, nil
}

// Explain computes the same decision as CheckAccess, with the roles that
// were considered, but writes no audit record.
func (e *Engine) Explain(ctx context.Context, principal, resourceType, resourceName, action string) (*Decision, error) {
	return e.decide(ctx, principal, resourceType, resourceName, action)
}

func (e *Engine) decide(ctx context.Context, principal, resourceType, resourceName, action string) (*Decision, error) {
	d := &Decision{
		PrincipalName: principal,
		ResourceType:  resourceType,
		ResourceName:  resourceName,
		Action:        action,
		CorrelationID: e.correlationID(),
		Timestamp:     e.clock(),
	}
	if principal == "" || resourceType == "" || resourceName == "" || action == "" {
		d.Reason = ReasonInvalidParameters
		e.logDecision(d)
		return d, nil
	}

	roles, err := e.resolver.ResolveRoles(ctx, principal)
	if err != nil {
		return nil, unavailable("resolve roles", err)
	}
	d.Roles = roles

	direct, err := e.permissions.LookupDirect(ctx, principal, resourceType, resourceName, action)
	if err != nil {
		return nil, unavailable("lookup direct grants", err)
	}
	granted := len(direct) > 0
	if !granted && len(roles) > 0 {
		viaRoles, err := e.permissions.LookupByRoles(ctx, roles, resourceType, resourceName, action)
		if err != nil {
			return nil, unavailable("lookup role grants", err)
		}
		granted = len(viaRoles) > 0
	}
	if !granted {
		d.Reason = ReasonNoMatchingGrant
		e.logDecision(d)
		return d, nil
	}

	ok, err := e.evaluator.Load().Validate(ctx, principal, resourceType, resourceName)
	if err != nil {
		return nil, err
	}
	if !ok {
		d.Reason = ReasonAttributeVeto
		e.logDecision(d)
		return d, nil
	}

	d.Granted = true
	e.logDecision(d)
	return d, nil
}

func (e *Engine) logDecision(d *Decision) {
	e.logger.Debug("access decision",
		"principal", d.PrincipalName,
		"resource_type", d.ResourceType,
		"resource", d.ResourceName,
		"action", d.Action,
		"granted", d.Granted,
		"reason", d.Reason,
		"correlation_id", d.CorrelationID)
}

// Grant upserts a permission. Re-granting an existing
// (resource, action, principal) tuple updates it in place and returns the
// original grant ID.
func (e *Engine) Grant(ctx context.Context, resourceType, resourceName, action string, p Principal, expiresAt time.Time, condition *Condition) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	g := &Grant{
		ResourceType:  resourceType,
		ResourceName:  resourceName,
		Action:        action,
		PrincipalKind: p.Kind(),
		PrincipalName: p.Name(),
		Condition:     condition,
		GrantedAt:     e.clock(),
		ExpiresAt:     expiresAt,
		Active:        true,
	}
	if err := g.Validate(); err != nil {
		return "", err
	}
	id, err := e.permissions.Grant(ctx, g)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return "", err
		}
		return "", unavailable("store grant", err)
	}
	e.logger.Info("grant stored",
		"grant_id", id, "resource_type", resourceType, "resource", resourceName,
		"action", action, "principal_kind", string(p.Kind()), "principal", p.Name())
	return id, nil
}

// Revoke deactivates a grant. Revoking a tuple that was never granted is
// not an error.
func (e *Engine) Revoke(ctx context.Context, resourceType, resourceName, action string, p Principal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := e.permissions.Revoke(ctx, resourceType, resourceName, action, p); err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return err
		}
		return unavailable("revoke grant", err)
	}
	e.logger.Info("grant revoked",
		"resource_type", resourceType, "resource", resourceName,
		"action", action, "principal_kind", string(p.Kind()), "principal", p.Name())
	return nil
}

// SetAttribute upserts a principal attribute.
func (e *Engine) SetAttribute(ctx context.Context, principal, name, value string, expiresAt time.Time) error {
	a := &Attribute{
		PrincipalName: principal,
		Name:          name,
		Value:         value,
		ExpiresAt:     expiresAt,
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := e.attributes.Set(ctx, a); err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return err
		}
		return unavailable("set attribute", err)
	}
	e.logger.Info("attribute set", "principal", principal, "name", name)
	return nil
}

// GetAttribute returns the attribute, or nil when absent or expired.
func (e *Engine) GetAttribute(ctx context.Context, principal, name string) (*Attribute, error) {
	a, err := e.attributes.Get(ctx, principal, name)
	if err != nil {
		return nil, unavailable("get attribute", err)
	}
	return a, nil
}

// ListAttributes returns the principal's unexpired attributes.
func (e *Engine) ListAttributes(ctx context.Context, principal string) ([]*Attribute, error) {
	attrs, err := e.attributes.List(ctx, principal)
	if err != nil {
		return nil, unavailable("list attributes", err)
	}
	return attrs, nil
}

// GetPermissions reports the principal's effective permissions.
func (e *Engine) GetPermissions(ctx context.Context, principal string) ([]PermissionRow, error) {
	return e.reporter.GetPermissions(ctx, principal)
}

// GetAuditReport aggregates audit records in the window.
func (e *Engine) GetAuditReport(ctx context.Context, start, end time.Time, principalFilter string) ([]AuditReportRow, error) {
	return e.reporter.GetAuditReport(ctx, start, end, principalFilter)
}

// GetAuditTrail returns raw audit records matching the filter.
func (e *Engine) GetAuditTrail(ctx context.Context, f AuditFilter) ([]*AuditRecord, error) {
	recs, err := e.audit.Query(ctx, f)
	if err != nil {
		return nil, unavailable("query audit log", err)
	}
	return recs, nil
}

// BuildFilteredQuery derives the row-filtered form of baseQuery for the
// principal and table.
func (e *Engine) BuildFilteredQuery(ctx context.Context, principal, tableName, baseQuery string) (string, error) {
	return e.rowFilter.Build(ctx, principal, tableName, baseQuery)
}
