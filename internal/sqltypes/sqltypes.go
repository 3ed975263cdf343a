package sqltypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// format is how the sqlite driver writes time.Time parameters.
const format = "2006-01-02 15:04:05.999999999-07:00"

// Time normalises t for storage: UTC, whole seconds. Every stored timestamp
// goes through it so that text comparison in SQL matches time order.
func Time(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// TimePtr is Time for nullable columns.
func TimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := Time(*t)

	return &v
}

func parseTime(src interface{}) (time.Time, error) {
	switch src := src.(type) {
	case time.Time:
		return src, nil
	case string:
		return time.Parse(format, src)
	case []byte:
		return time.Parse(format, string(src))
	default:
		return time.Time{}, fmt.Errorf("could not scan input type of %T", src)
	}
}

// TimeScanner reads a timestamp from a column that has lost its declared
// type, such as an aggregate or a view expression.
type TimeScanner struct {
	Value *time.Time
}

func (t *TimeScanner) Scan(src interface{}) error {
	v, err := parseTime(src)
	if err != nil {
		return fmt.Errorf("sqltypes.TimeScanner: %w", err)
	}

	*t.Value = v

	return nil
}

type TimePointerScanner struct {
	Value **time.Time
}

func (t *TimePointerScanner) Scan(src interface{}) error {
	if src == nil {
		*t.Value = nil
		return nil
	}

	v, err := parseTime(src)
	if err != nil {
		return fmt.Errorf("sqltypes.TimePointerScanner: %w", err)
	}

	*t.Value = &v

	return nil
}

type JSONStringSlice []string

func (s JSONStringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}

	d, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("sqltypes.JSONStringSlice: %w", err)
	}

	return string(d), nil
}

func (s *JSONStringSlice) Scan(src interface{}) error {
	switch src := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		if err := json.Unmarshal(src, s); err != nil {
			return fmt.Errorf("sqltypes.JSONStringSlice: could not decode input (%T) as JSON: %w", src, err)
		}
		return nil
	case string:
		if err := json.Unmarshal([]byte(src), s); err != nil {
			return fmt.Errorf("sqltypes.JSONStringSlice: could not decode input (%T) as JSON: %w", src, err)
		}
		return nil
	default:
		return fmt.Errorf("sqltypes.JSONStringSlice: could not scan input type of %T", src)
	}
}
