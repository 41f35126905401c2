package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when an insert violates a uniqueness rule,
// e.g. a second live grant for the same (grantee, resource, permission).
var ErrDuplicate = errors.New("storage: duplicate")
