package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of cache failed for reason : %s ", ve.Reason)
}

// Is reports a match against ErrValidation so callers can test with errors.Is.
func (ve ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	ErrValidation       = errors.New("cache validation failed")
	ErrCacheItemExpired = errors.New("cache item expired")
	ErrNoCacheItem      = errors.New("no value found in cache")
)
