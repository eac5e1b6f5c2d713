package registry

import "errors"

// ErrNotFound is returned when a group id is not in the registry.
var ErrNotFound = errors.New("group not found")
