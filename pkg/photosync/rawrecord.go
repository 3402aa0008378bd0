package photosync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	errs "vkphotos/pkg/errors"
)

// RawRecord is one undecoded record from an API list. Unknown fields are
// kept but never consulted.
type RawRecord map[string]json.RawMessage

// ParseRawRecord decodes a single list item into a RawRecord.
func ParseRawRecord(raw json.RawMessage) (RawRecord, error) {
	var rec RawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: not an object: %v", errs.ErrInvalidRecord, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: null record", errs.ErrInvalidRecord)
	}
	return rec, nil
}

// lookup returns the first present, non-null field among keys.
func (r RawRecord) lookup(keys ...string) (json.RawMessage, string, bool) {
	for _, key := range keys {
		v, ok := r[key]
		if !ok {
			continue
		}
		t := bytes.TrimSpace(v)
		if len(t) == 0 || bytes.Equal(t, []byte("null")) {
			continue
		}
		return t, key, true
	}
	return nil, "", false
}

// Has reports whether any of keys is present and not null.
func (r RawRecord) Has(keys ...string) bool {
	_, _, ok := r.lookup(keys...)
	return ok
}

// numberText unwraps a JSON number or a quoted number into its text.
func numberText(v json.RawMessage) (string, bool) {
	if len(v) == 0 {
		return "", false
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return s, s != ""
	}
	return string(v), true
}

// Int64 reads a signed integer from the first present key.
func (r RawRecord) Int64(keys ...string) (int64, bool, error) {
	v, key, ok := r.lookup(keys...)
	if !ok {
		return 0, false, nil
	}
	text, ok := numberText(v)
	if !ok {
		return 0, false, fmt.Errorf("%w: field %q is not a number", errs.ErrInvalidRecord, key)
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: field %q: %v", errs.ErrInvalidRecord, key, err)
	}
	return n, true, nil
}

// Uint64 reads an unsigned integer from the first present key.
func (r RawRecord) Uint64(keys ...string) (uint64, bool, error) {
	v, key, ok := r.lookup(keys...)
	if !ok {
		return 0, false, nil
	}
	text, ok := numberText(v)
	if !ok {
		return 0, false, fmt.Errorf("%w: field %q is not a number", errs.ErrInvalidRecord, key)
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: field %q: %v", errs.ErrInvalidRecord, key, err)
	}
	return n, true, nil
}

// Int reads an int; absent fields yield def.
func (r RawRecord) Int(def int, keys ...string) (int, error) {
	n, ok, err := r.Int64(keys...)
	if err != nil || !ok {
		return def, err
	}
	return int(n), nil
}

// String reads a string field. Numbers are accepted and returned as text.
func (r RawRecord) String(keys ...string) (string, error) {
	v, key, ok := r.lookup(keys...)
	if !ok {
		return "", nil
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("%w: field %q: %v", errs.ErrInvalidRecord, key, err)
		}
		return s, nil
	}
	if text, ok := numberText(v); ok && (text[0] == '-' || (text[0] >= '0' && text[0] <= '9')) {
		return text, nil
	}
	return "", fmt.Errorf("%w: field %q is not a string", errs.ErrInvalidRecord, key)
}

// Time reads a unix-epoch timestamp as UTC from the first key holding a
// non-zero value. Absent or zero timestamps yield the zero time.
func (r RawRecord) Time(keys ...string) (time.Time, error) {
	for _, key := range keys {
		n, ok, err := r.Int64(key)
		if err != nil {
			return time.Time{}, err
		}
		if ok && n != 0 {
			return time.Unix(n, 0).UTC(), nil
		}
	}
	return time.Time{}, nil
}

// Counter flattens a nested {"count": n} object. A bare number is accepted
// too. It returns nil when the field or its count is absent.
func (r RawRecord) Counter(key string) (*int, error) {
	v, _, ok := r.lookup(key)
	if !ok {
		return nil, nil
	}
	if v[0] != '{' {
		n, err := r.Int(0, key)
		if err != nil {
			return nil, err
		}
		return &n, nil
	}

	var nested RawRecord
	if err := json.Unmarshal(v, &nested); err != nil {
		return nil, fmt.Errorf("%w: counter %q: %v", errs.ErrInvalidRecord, key, err)
	}
	n, ok, err := nested.Int64("count")
	if err != nil {
		return nil, fmt.Errorf("counter %q: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	count := int(n)
	return &count, nil
}

// Objects decodes an array of objects, e.g. the "sizes" list.
func (r RawRecord) Objects(key string) ([]RawRecord, error) {
	v, _, ok := r.lookup(key)
	if !ok {
		return nil, nil
	}
	var out []RawRecord
	if err := json.Unmarshal(v, &out); err != nil {
		return nil, fmt.Errorf("%w: field %q: %v", errs.ErrInvalidRecord, key, err)
	}
	return out, nil
}
