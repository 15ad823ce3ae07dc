// Package errors provides the error types returned by snapshot operations.
//
// Each error type includes a constructor, Error() method, and a type-checking
// helper using errors.As so wrapped errors are still recognised.
//
//	┌────────────────────────────┬──────┬──────────────────────────────────────┐
//	│ Error Type                 │ HTTP │ Description                          │
//	├────────────────────────────┼──────┼──────────────────────────────────────┤
//	│ RemoteTaskFailure          │ 502  │ vCenter task ended in error state    │
//	│ PreconditionViolationError │ 412  │ datastore capacity gate rejected     │
//	│ AmbiguousSnapshotError     │ 409  │ name matched several nodes (0: 404)  │
//	│ ResolutionError            │ 404  │ VM could not be located              │
//	│ ResourceNotFoundError      │ 404  │ e.g. VM has no current snapshot      │
//	│ InvalidArgumentError       │ 400  │ request rejected before any call     │
//	└────────────────────────────┴──────┴──────────────────────────────────────┘
//
// None of these are retried. A request performs at most one mutating call.
//
// Usage:
//
//	switch {
//	case errors.IsPreconditionViolationError(err):
//	    writeError(w, http.StatusPreconditionFailed, err)
//	case errors.IsAmbiguousSnapshotError(err):
//	    writeError(w, http.StatusConflict, err)
//	}
package errors
