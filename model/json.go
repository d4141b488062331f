package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonb column helpers. gorm has no native type for postgres jsonb slices,
// so each column type carries its own Scanner/Valuer pair.

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

type Int64List []int64

func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		l = Int64List{}
	}
	return json.Marshal(l)
}

func (l *Int64List) Scan(src interface{}) error {
	return scanJSON(src, l)
}

type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Payload is an opaque json document column.
type Payload json.RawMessage

func (p Payload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return []byte(p), nil
}

func (p *Payload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append((*p)[:0], v...)
	case string:
		*p = Payload(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	*p = append((*p)[:0], b...)
	return nil
}

type RatingBand struct {
	Min   float64 `json:"min"`
	Label string  `json:"label"`
}

type RatingBands map[string]RatingBand

func (b RatingBands) Value() (driver.Value, error) {
	if b == nil {
		b = RatingBands{}
	}
	return json.Marshal(b)
}

func (b *RatingBands) Scan(src interface{}) error {
	return scanJSON(src, b)
}
