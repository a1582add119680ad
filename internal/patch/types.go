package patch

import (
	"errors"
	"fmt"
)

// #region patch
// Op is a patch operation. Only replace is supported.
type Op string

const OpReplace Op = "replace"

// Patch is one field-level edit addressed by a JSON pointer.
// Path "/" replaces the whole document.
type Patch struct {
	Op    Op     `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Replace builds a replace patch.
func Replace(path string, value any) Patch {
	return Patch{Op: OpReplace, Path: path, Value: value}
}

// #endregion patch

// #region errors
// ErrMalformedPatch is matched by every MalformedPatchError.
var ErrMalformedPatch = errors.New("malformed patch")

// MalformedPatchError rejects a whole batch. Index is the position of the
// first patch that failed.
type MalformedPatchError struct {
	Index  int
	Path   string
	Reason string
}

func (e *MalformedPatchError) Error() string {
	return fmt.Sprintf("malformed patch %d (%s): %s", e.Index, e.Path, e.Reason)
}

func (e *MalformedPatchError) Is(target error) bool {
	return target == ErrMalformedPatch
}

// #endregion errors
