package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UnixTime stores as Unix milliseconds (INTEGER column) so SQL-side
// comparisons and ordering are exact. JSON marshals as RFC 3339 via the
// embedded time.Time.
type UnixTime struct {
	time.Time
}

func NewUnixTime(t time.Time) UnixTime {
	return UnixTime{t.UTC()}
}

func (t UnixTime) Value() (driver.Value, error) {
	return t.UTC().UnixMilli(), nil
}

func (t *UnixTime) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		t.Time = time.UnixMilli(v).UTC()
	case time.Time:
		t.Time = v.UTC()
	case nil:
		t.Time = time.Time{}
	default:
		return fmt.Errorf("cannot scan %T into UnixTime", src)
	}
	return nil
}

// NullUnixTime is the nullable counterpart of UnixTime.
type NullUnixTime struct {
	Time  time.Time
	Valid bool
}

func SomeUnixTime(t time.Time) NullUnixTime {
	return NullUnixTime{Time: t.UTC(), Valid: true}
}

func (t NullUnixTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time.UTC().UnixMilli(), nil
}

func (t *NullUnixTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
	case int64:
		t.Time, t.Valid = time.UnixMilli(v).UTC(), true
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
	default:
		return fmt.Errorf("cannot scan %T into NullUnixTime", src)
	}
	return nil
}
