package vkapi

import (
	"bytes"
	"encoding/json"

	errs "vkphotos/pkg/errors"
)

// List is one decoded page of a list-returning method.
type List struct {
	// Count is the total reported by the API. Only meaningful when HasCount.
	Count    int
	HasCount bool
	Items    []json.RawMessage
}

// DecodeList accepts every list shape the API returns:
//
//	[item, ...]
//	[count, item, ...]
//	{"count": n, "items": [...]}
//	{"count": n, "users": [...]}
//
// A leading number is a count only when objects follow it, or when it is a
// lone 0. Plain id lists such as [12345] stay intact.
func DecodeList(raw json.RawMessage) (List, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return List{}, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return List{}, errs.New(errs.ErrorTypeParsing, 0, "decode list: %v", err)
		}
		if countPrefixed(items) {
			var count int
			if err := json.Unmarshal(items[0], &count); err != nil {
				return List{}, errs.New(errs.ErrorTypeParsing, 0, "decode list count: %v", err)
			}
			return List{Count: count, HasCount: true, Items: items[1:]}, nil
		}
		return List{Items: items}, nil

	case '{':
		var obj struct {
			Count *int            `json:"count"`
			Items json.RawMessage `json:"items"`
			Users json.RawMessage `json:"users"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return List{}, errs.New(errs.ErrorTypeParsing, 0, "decode list: %v", err)
		}
		body := obj.Items
		if len(body) == 0 {
			body = obj.Users
		}
		var items []json.RawMessage
		if len(body) > 0 && !bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
			if err := json.Unmarshal(body, &items); err != nil {
				return List{}, errs.New(errs.ErrorTypeParsing, 0, "decode list items: %v", err)
			}
		}
		list := List{Items: items}
		if obj.Count != nil {
			list.Count = *obj.Count
			list.HasCount = true
		}
		return list, nil
	}

	return List{}, errs.New(errs.ErrorTypeParsing, 0, "decode list: unexpected payload %.40q", string(trimmed))
}

func countPrefixed(items []json.RawMessage) bool {
	if len(items) == 0 || !isNumber(items[0]) {
		return false
	}
	if len(items) == 1 {
		return bytes.Equal(bytes.TrimSpace(items[0]), []byte("0"))
	}
	next := bytes.TrimSpace(items[1])
	return len(next) > 0 && next[0] == '{'
}

func isNumber(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return false
	}
	c := t[0]
	return c == '-' || (c >= '0' && c <= '9')
}
