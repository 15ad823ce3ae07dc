package service

import (
	"context"

	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
	"github.com/vmware/govmomi/vim25/types"
)

// SnapshotPlane abstracts the vCenter calls behind snapshot operations for testability.
// Mutating calls return the handle of the task they started.
type SnapshotPlane interface {
	ResolveVM(ctx context.Context, name string) (*models.VM, error)
	Snapshots(ctx context.Context, vm *models.VM) (*types.VirtualMachineSnapshotInfo, error)
	CreateSnapshot(ctx context.Context, vm *models.VM, name, description string, memory, quiesce bool) (types.ManagedObjectReference, error)
	RemoveSnapshot(ctx context.Context, snapshot types.ManagedObjectReference, removeChildren bool) (types.ManagedObjectReference, error)
	RevertSnapshot(ctx context.Context, snapshot types.ManagedObjectReference) (types.ManagedObjectReference, error)
	RemoveAllSnapshots(ctx context.Context, vm *models.VM) (types.ManagedObjectReference, error)
}

// TaskWaiter blocks until vCenter tasks finish.
type TaskWaiter interface {
	Wait(ctx context.Context, tasks ...types.ManagedObjectReference) error
}

// OperationJournal records the outcome of every snapshot operation.
type OperationJournal interface {
	Record(op *models.Operation) error
	List(vm string, limit int) ([]models.Operation, error)
	// Get returns nil without an error when id is unknown.
	Get(id string) (*models.Operation, error)
}
