package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringMap is a map[string]string persisted as a JSONB column.
type StringMap map[string]string

// Value implements driver.Valuer.
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *StringMap) Scan(src any) error {
	return scanJSON(src, m)
}

// AnyMap is a map[string]any persisted as a JSONB column.
type AnyMap map[string]any

// Value implements driver.Valuer.
func (m AnyMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *AnyMap) Scan(src any) error {
	return scanJSON(src, m)
}

// StringList is a []string persisted as a JSONB column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

// Contains reports whether the list contains s.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// IntList is a []int persisted as a JSONB column.
type IntList []int

// Value implements driver.Valuer.
func (l IntList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *IntList) Scan(src any) error {
	return scanJSON(src, l)
}

// Contains reports whether the list contains n.
func (l IntList) Contains(n int) bool {
	for _, v := range l {
		if v == n {
			return true
		}
	}
	return false
}

// FloatList is a []float64 persisted as a JSONB column.
type FloatList []float64

// Value implements driver.Valuer.
func (l FloatList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *FloatList) Scan(src any) error {
	return scanJSON(src, l)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}
