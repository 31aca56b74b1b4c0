package deadletter

import "errors"

// ErrNotFound is returned when no dead letter has the requested ID.
var ErrNotFound = errors.New("dead letter not found")
