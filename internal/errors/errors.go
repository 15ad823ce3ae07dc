package errors

import (
	"errors"
	"fmt"

	"github.com/vmware/govmomi/task"
	"github.com/vmware/govmomi/vim25/types"
)

// RemoteTaskFailure indicates a vCenter task reached the error state.
type RemoteTaskFailure struct {
	Task  types.ManagedObjectReference
	Fault *types.LocalizedMethodFault
}

func NewRemoteTaskFailure(task types.ManagedObjectReference, fault *types.LocalizedMethodFault) *RemoteTaskFailure {
	return &RemoteTaskFailure{Task: task, Fault: fault}
}

func (e *RemoteTaskFailure) Error() string {
	if e.Fault == nil || e.Fault.LocalizedMessage == "" {
		return fmt.Sprintf("task %s failed", e.Task.Value)
	}
	return fmt.Sprintf("task %s failed: %s", e.Task.Value, e.Fault.LocalizedMessage)
}

// Unwrap exposes the remote fault as a govmomi task.Error.
func (e *RemoteTaskFailure) Unwrap() error {
	if e.Fault == nil {
		return nil
	}
	return task.Error{LocalizedMethodFault: e.Fault}
}

// IsRemoteTaskFailure checks if the error is a RemoteTaskFailure.
func IsRemoteTaskFailure(err error) bool {
	var e *RemoteTaskFailure
	return errors.As(err, &e)
}

// PreconditionViolationError indicates the capacity gate rejected a snapshot creation.
type PreconditionViolationError struct {
	VM     string
	Disk   string
	Reason string
}

func NewPreconditionViolationError(vm, disk, reason string) *PreconditionViolationError {
	return &PreconditionViolationError{VM: vm, Disk: disk, Reason: reason}
}

func (e *PreconditionViolationError) Error() string {
	return fmt.Sprintf("snapshot condition violated on VM %s (disk %s): %s", e.VM, e.Disk, e.Reason)
}

func IsPreconditionViolationError(err error) bool {
	var e *PreconditionViolationError
	return errors.As(err, &e)
}

// AmbiguousSnapshotError indicates a snapshot name matched zero or several snapshots.
type AmbiguousSnapshotError struct {
	Name    string
	Matches int
}

func NewAmbiguousSnapshotError(name string, matches int) *AmbiguousSnapshotError {
	return &AmbiguousSnapshotError{Name: name, Matches: matches}
}

func (e *AmbiguousSnapshotError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("no snapshot named %q", e.Name)
	}
	return fmt.Sprintf("snapshot name %q is ambiguous: %d matches", e.Name, e.Matches)
}

func IsAmbiguousSnapshotError(err error) bool {
	var e *AmbiguousSnapshotError
	return errors.As(err, &e)
}

// ResolutionError indicates the target VM could not be located.
type ResolutionError struct {
	VM  string
	Err error
}

func NewResolutionError(vm string, err error) *ResolutionError {
	return &ResolutionError{VM: vm, Err: err}
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unable to locate VM %q", e.VM)
	}
	return fmt.Sprintf("unable to locate VM %q: %v", e.VM, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func IsResolutionError(err error) bool {
	var e *ResolutionError
	return errors.As(err, &e)
}

// ResourceNotFoundError indicates a resource was not found.
type ResourceNotFoundError struct {
	Kind string
}

func NewResourceNotFoundError(kind string) *ResourceNotFoundError {
	return &ResourceNotFoundError{Kind: kind}
}

func NewCurrentSnapshotNotFoundError() *ResourceNotFoundError {
	return NewResourceNotFoundError("current snapshot")
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Kind)
}

func IsResourceNotFoundError(err error) bool {
	var e *ResourceNotFoundError
	return errors.As(err, &e)
}

// InvalidArgumentError indicates a request was rejected before reaching vCenter.
type InvalidArgumentError struct {
	Msg string
}

func NewInvalidArgumentError(format string, args ...any) *InvalidArgumentError {
	return &InvalidArgumentError{Msg: fmt.Sprintf(format, args...)}
}

func (e *InvalidArgumentError) Error() string {
	return e.Msg
}

func IsInvalidArgumentError(err error) bool {
	var e *InvalidArgumentError
	return errors.As(err, &e)
}
