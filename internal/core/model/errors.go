package model

import "errors"

// Error taxonomy surfaced by every public graph operation. Raw driver errors
// are translated into one of these at each operation boundary.
var (
	ErrNoConnection = errors.New("no graph store connection")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrImmutable    = errors.New("immutable")
)
