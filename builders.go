package ubac

import "time"

// Builders provide a fluent API for creating Grants, Attributes and Rules

// GrantBuilder builds a Grant.
type GrantBuilder struct {
	g *Grant
}

func NewGrantBuilder() *GrantBuilder {
	return &GrantBuilder{g: &Grant{Active: true}}
}

func (b *GrantBuilder) Resource(resourceType, resourceName string) *GrantBuilder {
	b.g.ResourceType = resourceType
	b.g.ResourceName = resourceName
	return b
}
func (b *GrantBuilder) Action(a string) *GrantBuilder { b.g.Action = a; return b }
func (b *GrantBuilder) User(name string) *GrantBuilder {
	b.g.PrincipalKind = PrincipalUser
	b.g.PrincipalName = name
	return b
}
func (b *GrantBuilder) Role(name string) *GrantBuilder {
	b.g.PrincipalKind = PrincipalRole
	b.g.PrincipalName = name
	return b
}
func (b *GrantBuilder) Condition(c *Condition) *GrantBuilder { b.g.Condition = c; return b }
func (b *GrantBuilder) GrantedBy(name string) *GrantBuilder  { b.g.GrantedBy = name; return b }
func (b *GrantBuilder) ExpiresAt(t time.Time) *GrantBuilder  { b.g.ExpiresAt = t; return b }
func (b *GrantBuilder) ExpiresIn(d time.Duration) *GrantBuilder {
	b.g.ExpiresAt = time.Now().Add(d)
	return b
}
func (b *GrantBuilder) Build() *Grant { return b.g }

// AttributeBuilder builds an Attribute.
type AttributeBuilder struct {
	a *Attribute
}

func NewAttributeBuilder() *AttributeBuilder {
	return &AttributeBuilder{a: &Attribute{}}
}

func (b *AttributeBuilder) Principal(name string) *AttributeBuilder {
	b.a.PrincipalName = name
	return b
}
func (b *AttributeBuilder) Name(n string) *AttributeBuilder  { b.a.Name = n; return b }
func (b *AttributeBuilder) Value(v string) *AttributeBuilder { b.a.Value = v; return b }
func (b *AttributeBuilder) SetBy(name string) *AttributeBuilder {
	b.a.CreatedBy = name
	b.a.ModifiedBy = name
	return b
}
func (b *AttributeBuilder) ExpiresAt(t time.Time) *AttributeBuilder { b.a.ExpiresAt = t; return b }
func (b *AttributeBuilder) Build() *Attribute                       { return b.a }

// RuleBuilder builds an attribute Rule.
type RuleBuilder struct {
	r Rule
}

func NewRuleBuilder() *RuleBuilder { return &RuleBuilder{} }

func (b *RuleBuilder) Pattern(p string) *RuleBuilder      { b.r.Pattern = p; return b }
func (b *RuleBuilder) ResourceType(t string) *RuleBuilder { b.r.ResourceType = t; return b }
func (b *RuleBuilder) Requires(attribute string) *RuleBuilder {
	b.r.RequiredAttribute = attribute
	return b
}
func (b *RuleBuilder) Allow(values ...string) *RuleBuilder {
	b.r.AllowedValues = append(b.r.AllowedValues, values...)
	return b
}
func (b *RuleBuilder) Condition(expr string) *RuleBuilder { b.r.Condition = expr; return b }
func (b *RuleBuilder) Build() Rule                        { return b.r }
