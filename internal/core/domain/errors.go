package domain

import "errors"

var (
	ErrMalformedEntry  = errors.New("malformed queue entry")
	ErrLockNotObtained = errors.New("lock not obtained")
	ErrLockNotHeld     = errors.New("lock not held")
	ErrItemNotFound    = errors.New("item not found")
)
