package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ReferrerKind tells whether a collection belongs to an individual account or a group.
type ReferrerKind int

const (
	KindNone ReferrerKind = iota
	KindOwner
	KindGroup
)

// Referrer is the owning account of an album or photo. Exactly one of Owner
// or Group is encoded; the zero value refers to nothing and is invalid.
type Referrer struct {
	Kind ReferrerKind
	ID   uint64
}

// OwnerRef returns a Referrer for an individual account.
func OwnerRef(id uint64) Referrer {
	return Referrer{Kind: KindOwner, ID: id}
}

// GroupRef returns a Referrer for a group account.
func GroupRef(id uint64) Referrer {
	return Referrer{Kind: KindGroup, ID: id}
}

// ReferrerFromScope maps a signed platform id onto a Referrer: positive values
// are owners, negative values are groups.
func ReferrerFromScope(scope int64) (Referrer, error) {
	switch {
	case scope > 0:
		return OwnerRef(uint64(scope)), nil
	case scope < 0:
		return GroupRef(uint64(-scope)), nil
	default:
		return Referrer{}, fmt.Errorf("scope must be non-zero")
	}
}

// ParseReferrer accepts "6492", "-6492", "owner:6492" or "group:6492".
func ParseReferrer(s string) (Referrer, error) {
	s = strings.TrimSpace(s)
	if kind, id, ok := strings.Cut(s, ":"); ok {
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil || n == 0 {
			return Referrer{}, fmt.Errorf("invalid referrer id %q", id)
		}
		switch strings.ToLower(kind) {
		case "owner", "user":
			return OwnerRef(n), nil
		case "group", "club":
			return GroupRef(n), nil
		}
		return Referrer{}, fmt.Errorf("unknown referrer kind %q", kind)
	}
	scope, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Referrer{}, fmt.Errorf("invalid referrer %q", s)
	}
	return ReferrerFromScope(scope)
}

// IsZero reports whether r refers to nothing.
func (r Referrer) IsZero() bool {
	return r.Kind == KindNone || r.ID == 0
}

// IsOwner reports whether r is an individual account.
func (r Referrer) IsOwner() bool { return r.Kind == KindOwner && r.ID != 0 }

// IsGroup reports whether r is a group.
func (r Referrer) IsGroup() bool { return r.Kind == KindGroup && r.ID != 0 }

// Scope is the signed id used in composite identifiers and API calls.
func (r Referrer) Scope() int64 {
	switch r.Kind {
	case KindOwner:
		return int64(r.ID)
	case KindGroup:
		return -int64(r.ID)
	}
	return 0
}

func (r Referrer) String() string {
	switch r.Kind {
	case KindOwner:
		return fmt.Sprintf("owner:%d", r.ID)
	case KindGroup:
		return fmt.Sprintf("group:%d", r.ID)
	}
	return "none"
}

// MarshalText renders r as "owner:N" or "group:N".
func (r Referrer) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (r *Referrer) UnmarshalText(text []byte) error {
	if string(text) == "none" {
		*r = Referrer{}
		return nil
	}
	parsed, err := ParseReferrer(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
