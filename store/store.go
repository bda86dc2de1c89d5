package store

import "github.com/pkg/errors"

// ErrNotFound is returned when a lookup by id matches no record.
var ErrNotFound = errors.New("record not found")
