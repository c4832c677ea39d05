package stores

import (
	"encoding/json"
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/ubac"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqlNullTimeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanTime normalizes the driver-dependent representations of a timestamp
// column. Unparseable values come back zero.
func scanTime(raw interface{}) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func scanString(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func conditionToJSON(c *ubac.Condition) interface{} {
	if c == nil {
		return nil
	}
	b, _ := json.Marshal(c)
	return string(b)
}

func conditionFromJSON(s string) *ubac.Condition {
	if s == "" {
		return nil
	}
	c := &ubac.Condition{}
	if err := json.Unmarshal([]byte(s), c); err != nil {
		return nil
	}
	return c
}
