// Package remoteid encodes and decodes composite identifiers of the form
// "{scope}_{localId}", where scope is the owner id for individual accounts
// and the negated group id for groups.
package remoteid

import (
	"fmt"
	"strconv"
	"strings"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/models"
)

const separator = "_"

// Encode builds the composite identifier for a signed scope and a local id.
func Encode(scope int64, localID uint64) (string, error) {
	if scope == 0 {
		return "", fmt.Errorf("encode identifier: exactly one of owner or group is required")
	}
	return strconv.FormatInt(scope, 10) + separator + strconv.FormatUint(localID, 10), nil
}

// EncodeReferrer builds the composite identifier for ref and localID.
func EncodeReferrer(ref models.Referrer, localID uint64) (string, error) {
	if ref.IsZero() {
		return "", fmt.Errorf("encode identifier: exactly one of owner or group is required")
	}
	return Encode(ref.Scope(), localID)
}

// Decode splits id on its first separator.
func Decode(id string) (scope int64, localID uint64, err error) {
	head, tail, ok := strings.Cut(id, separator)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q has no separator", errs.ErrMalformedIdentifier, id)
	}
	scope, err = strconv.ParseInt(head, 10, 64)
	if err != nil || scope == 0 {
		return 0, 0, fmt.Errorf("%w: %q has an invalid scope", errs.ErrMalformedIdentifier, id)
	}
	// ParseUint rejects signs, so "1_-2" and "1_2_3" both fail here.
	localID, err = strconv.ParseUint(tail, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q has an invalid local id", errs.ErrMalformedIdentifier, id)
	}
	return scope, localID, nil
}

// DecodeReferrer decodes id and returns its referrer instead of the raw scope.
func DecodeReferrer(id string) (models.Referrer, uint64, error) {
	scope, localID, err := Decode(id)
	if err != nil {
		return models.Referrer{}, 0, err
	}
	ref, err := models.ReferrerFromScope(scope)
	if err != nil {
		return models.Referrer{}, 0, fmt.Errorf("%w: %v", errs.ErrMalformedIdentifier, err)
	}
	return ref, localID, nil
}

// LocalID returns only the local part of id.
func LocalID(id string) (uint64, error) {
	_, localID, err := Decode(id)
	return localID, err
}
