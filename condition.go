package ubac

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Condition is a structured row predicate attached to a grant. It is kept
// in parsed form (field, operator, value) and only rendered to SQL at the
// row-filter boundary, with the literal escaped there.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator string   `json:"operator" yaml:"operator"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []string `json:"values,omitempty" yaml:"values,omitempty"` // IN only
}

var condIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Operators accepted in grant conditions.
var condOperators = map[string]struct{}{
	"=": {}, "!=": {}, ">": {}, ">=": {}, "<": {}, "<=": {}, "LIKE": {}, "IN": {},
}

// Validate checks field, operator and operand shape.
func (c *Condition) Validate() error {
	if !condIdentRe.MatchString(c.Field) {
		return fmt.Errorf("%w: condition field %q is not an identifier", ErrInvalidArgument, c.Field)
	}
	op := strings.ToUpper(c.Operator)
	if _, ok := condOperators[op]; !ok {
		return fmt.Errorf("%w: unsupported condition operator %q", ErrInvalidArgument, c.Operator)
	}
	if op == "IN" {
		if len(c.Values) == 0 {
			return fmt.Errorf("%w: IN condition requires values", ErrInvalidArgument)
		}
		return nil
	}
	if c.Value == "" {
		return fmt.Errorf("%w: condition requires a value", ErrInvalidArgument)
	}
	return nil
}

// Render produces the SQL fragment for the condition with the literal
// escaped. Numeric literals stay unquoted so comparisons keep their type.
func (c *Condition) Render() string {
	op := strings.ToUpper(c.Operator)
	if op == "IN" {
		quoted := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			quoted = append(quoted, sqlLiteral(v))
		}
		return fmt.Sprintf("%s IN (%s)", c.Field, strings.Join(quoted, ", "))
	}
	return fmt.Sprintf("%s %s %s", c.Field, op, sqlLiteral(c.Value))
}

func (c *Condition) String() string { return c.Render() }

func sqlLiteral(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

var (
	condInRe  = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_\.]*)\s+(?i:IN)\s*\(([^)]*)\)\s*$`)
	condCmpRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_\.]*)\s*(=|!=|<>|>=|<=|>|<|(?i:LIKE))\s*(.+?)\s*$`)
)

// ParseCondition parses a limited subset of SQL predicate syntax into a
// Condition: "field op literal" with op one of =, !=, <>, >, >=, <, <=,
// LIKE, plus "field IN (a, b, c)". Anything else is rejected rather than
// passed through as an opaque fragment.
func ParseCondition(s string) (*Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if m := condInRe.FindStringSubmatch(s); len(m) == 3 {
		c := &Condition{Field: m[1], Operator: "IN", Values: splitCSV(m[2])}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	}
	if m := condCmpRe.FindStringSubmatch(s); len(m) == 4 {
		op := strings.ToUpper(m[2])
		if op == "<>" {
			op = "!="
		}
		c := &Condition{Field: m[1], Operator: op, Value: unquote(m[3])}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: unsupported condition syntax: %s", ErrInvalidArgument, s)
}

// splitCSV splits items like "'a', 'b'" or "a, b" into trimmed, unquoted strings.
func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, unquote(p))
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			inner := s[1 : len(s)-1]
			return strings.ReplaceAll(inner, "''", "'")
		}
	}
	return s
}
