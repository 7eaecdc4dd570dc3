package vectorstore

import (
	"errors"
	"fmt"
)

// Error kinds. Select them with errors.Is.
var (
	// ErrEmbedding means a chunk could not be embedded; the index was not touched.
	ErrEmbedding = errors.New("embedding failed")
	// ErrPersistence means the snapshot could not be written; the previous snapshot is intact.
	ErrPersistence = errors.New("persistence failed")
	// ErrLoad means the persisted snapshot could not be read; the manager started empty.
	ErrLoad = errors.New("load failed")
)

// Error is returned by Manager operations. Kind is one of the sentinels above, or nil for
// failures that fit none of them.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == nil {
		return fmt.Sprintf("vectorstore %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vectorstore %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
