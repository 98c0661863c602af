package workspace

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPortRangeExhausted is wrapped by ResourceExhaustionError when no free
// port block was found within the probe bound.
var ErrPortRangeExhausted = errors.New("port range exhausted")

// ErrWorkspaceBusy is returned when a workspace is in the middle of a merge.
var ErrWorkspaceBusy = errors.New("workspace busy")

// ErrUnknownWorkspace is returned for branches with no registered handle.
var ErrUnknownWorkspace = errors.New("unknown workspace")

// ResourceExhaustionError reports a resource that requires operator action.
// It is never retried automatically.
type ResourceExhaustionError struct {
	Resource string
	Detail   string
	Err      error
}

func (e *ResourceExhaustionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s exhausted: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("%s exhausted: %s: %v", e.Resource, e.Detail, e.Err)
}

func (e *ResourceExhaustionError) Unwrap() error {
	return e.Err
}

// IsResourceExhaustion checks if an error is a ResourceExhaustionError
func IsResourceExhaustion(err error) bool {
	var re *ResourceExhaustionError
	return errors.As(err, &re)
}

// MergeConflictError is returned when a workspace branch cannot be merged
// cleanly. The workspace is preserved for manual resolution.
type MergeConflictError struct {
	Branch string
	Into   string
	Paths  []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict merging %s into %s: %s", e.Branch, e.Into, strings.Join(e.Paths, ", "))
}

// IsMergeConflict checks if an error is a MergeConflictError
func IsMergeConflict(err error) bool {
	var mc *MergeConflictError
	return errors.As(err, &mc)
}
