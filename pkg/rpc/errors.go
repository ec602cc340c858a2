package rpc

import (
	"errors"
	"fmt"
)

// ErrBlockNotFound is returned when the node has no block at the requested height.
var ErrBlockNotFound = errors.New("block not found")

// ReadError is a failed or malformed chain read. Reads are never retried; the
// error aborts the report run.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
