package store

import "errors"

// ErrNotFound is returned when an operation targets an id that is not in
// the store. It is always wrapped with the id; match with errors.Is.
var ErrNotFound = errors.New("not found")
