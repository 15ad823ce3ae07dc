package orchestrator

import (
	"context"
	"strings"
	"time"

	srvErrors "github.com/EpicMandM/esxi-snapshot-service/internal/errors"
	"github.com/EpicMandM/esxi-snapshot-service/internal/gate"
	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
	"github.com/EpicMandM/esxi-snapshot-service/internal/metrics"
	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
	"github.com/EpicMandM/esxi-snapshot-service/internal/service"
	"github.com/EpicMandM/esxi-snapshot-service/internal/snapshot"
	"github.com/google/uuid"
	"github.com/vmware/govmomi/vim25/types"
)

// Orchestrator runs snapshot operations against one VM at a time. Every
// mutating operation issues at most one vCenter task and waits for it.
type Orchestrator struct {
	Logger  *logger.Logger
	VMware  service.SnapshotPlane
	Tasks   service.TaskWaiter
	Gate    *gate.Gate
	Journal service.OperationJournal // optional
	Metrics *metrics.Metrics         // optional
}

// CreateRequest describes a snapshot to take.
type CreateRequest struct {
	Name        string
	Description string
	Options     models.SnapshotOptions
}

// Create checks the datastore gate, takes the snapshot and returns the
// VM's current snapshot afterwards.
func (o *Orchestrator) Create(ctx context.Context, vmName string, req CreateRequest) (*models.CreateSnapshotResponse, error) {
	var resp *models.CreateSnapshotResponse
	err := o.run(ctx, models.VerbCreate, vmName, req.Name, func(ctx context.Context) error {
		if err := requireName(req.Name); err != nil {
			return err
		}
		vm, err := o.VMware.ResolveVM(ctx, vmName)
		if err != nil {
			return err
		}

		if r := o.gate().Check(vm); !r.Passed {
			o.Metrics.ObserveGateRejection()
			o.log().Warn("Snapshot condition not met",
				logger.Action("create"), logger.Status("rejected"),
				logger.VM(vm.Name), logger.F("DISK", r.Disk), logger.Datastore(r.Datastore),
				logger.F("FREE_PERCENT", r.FreePercent), logger.Reason(r.Reason))
			return srvErrors.NewPreconditionViolationError(vm.Name, r.Disk, r.Reason)
		}

		task, err := o.VMware.CreateSnapshot(ctx, vm, req.Name, req.Description, req.Options.Memory, req.Options.Quiesce)
		if err != nil {
			return err
		}
		if err := o.Tasks.Wait(ctx, task); err != nil {
			return err
		}

		resp = &models.CreateSnapshotResponse{
			VM:       vm.Name,
			Snapshot: req.Name,
			Memory:   req.Options.Memory,
			Quiesce:  req.Options.Quiesce,
		}
		// The snapshot exists at this point; a failed re-read only loses the summary.
		info, err := o.VMware.Snapshots(ctx, vm)
		if err != nil {
			o.log().Warn("Failed to re-read snapshot tree", logger.VM(vm.Name), logger.Error(err))
			return nil
		}
		if current, err := snapshot.FromVSphere(info).Current(); err == nil {
			summary := current.Summary()
			resp.Current = &summary
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ListAll returns the snapshot chain of the VM: the first root followed by
// first children. Sibling branches are not included.
func (o *Orchestrator) ListAll(ctx context.Context, vmName string) (*models.SnapshotListResponse, error) {
	return o.list(ctx, models.VerbListAll, vmName, models.ViewChain, (*snapshot.Tree).Chain)
}

// ListTree returns every snapshot of the VM in pre-order.
func (o *Orchestrator) ListTree(ctx context.Context, vmName string) (*models.SnapshotListResponse, error) {
	return o.list(ctx, models.VerbListAll, vmName, models.ViewTree, (*snapshot.Tree).All)
}

func (o *Orchestrator) list(ctx context.Context, verb models.Verb, vmName, view string, flatten func(*snapshot.Tree) []models.SnapshotSummary) (*models.SnapshotListResponse, error) {
	var resp *models.SnapshotListResponse
	err := o.run(ctx, verb, vmName, "", func(ctx context.Context) error {
		vm, err := o.VMware.ResolveVM(ctx, vmName)
		if err != nil {
			return err
		}
		snaps := flatten(snapshot.FromVSphere(vm.Snapshot))
		resp = &models.SnapshotListResponse{
			VM:        vm.Name,
			View:      view,
			Total:     len(snaps),
			Snapshots: snaps,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ListCurrent returns the VM's current snapshot.
func (o *Orchestrator) ListCurrent(ctx context.Context, vmName string) (*models.SnapshotSummary, error) {
	var summary *models.SnapshotSummary
	err := o.run(ctx, models.VerbListCurrent, vmName, "", func(ctx context.Context) error {
		vm, err := o.VMware.ResolveVM(ctx, vmName)
		if err != nil {
			return err
		}
		current, err := snapshot.FromVSphere(vm.Snapshot).Current()
		if err != nil {
			return err
		}
		s := current.Summary()
		summary = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Delete removes the snapshot named name. The name must match exactly one
// snapshot. With cascade the snapshot's children are removed too.
func (o *Orchestrator) Delete(ctx context.Context, vmName, name string, cascade bool) error {
	return o.run(ctx, models.VerbDelete, vmName, name, func(ctx context.Context) error {
		return o.onSnapshot(ctx, vmName, name, func(ref types.ManagedObjectReference) (types.ManagedObjectReference, error) {
			return o.VMware.RemoveSnapshot(ctx, ref, cascade)
		})
	})
}

// Revert makes the snapshot named name current again. The name must match
// exactly one snapshot.
func (o *Orchestrator) Revert(ctx context.Context, vmName, name string) error {
	return o.run(ctx, models.VerbRevert, vmName, name, func(ctx context.Context) error {
		return o.onSnapshot(ctx, vmName, name, func(ref types.ManagedObjectReference) (types.ManagedObjectReference, error) {
			return o.VMware.RevertSnapshot(ctx, ref)
		})
	})
}

// DeleteAll removes every snapshot of the VM.
func (o *Orchestrator) DeleteAll(ctx context.Context, vmName string) error {
	return o.run(ctx, models.VerbDeleteAll, vmName, "", func(ctx context.Context) error {
		vm, err := o.VMware.ResolveVM(ctx, vmName)
		if err != nil {
			return err
		}
		task, err := o.VMware.RemoveAllSnapshots(ctx, vm)
		if err != nil {
			return err
		}
		return o.Tasks.Wait(ctx, task)
	})
}

// Operations returns journaled operations, newest first.
func (o *Orchestrator) Operations(vmName string, limit int) ([]models.Operation, error) {
	if o.Journal == nil {
		return []models.Operation{}, nil
	}
	return o.Journal.List(vmName, limit)
}

// Operation returns one journaled operation by ID.
func (o *Orchestrator) Operation(id string) (*models.Operation, error) {
	if o.Journal == nil {
		return nil, srvErrors.NewResourceNotFoundError("operation")
	}
	op, err := o.Journal.Get(id)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, srvErrors.NewResourceNotFoundError("operation")
	}
	return op, nil
}

// onSnapshot resolves name to a single snapshot of the VM, issues the call
// and waits for its task.
func (o *Orchestrator) onSnapshot(ctx context.Context, vmName, name string, call func(types.ManagedObjectReference) (types.ManagedObjectReference, error)) error {
	if err := requireName(name); err != nil {
		return err
	}
	vm, err := o.VMware.ResolveVM(ctx, vmName)
	if err != nil {
		return err
	}
	node, err := snapshot.FromVSphere(vm.Snapshot).Resolve(name)
	if err != nil {
		return err
	}
	task, err := call(node.Ref)
	if err != nil {
		return err
	}
	return o.Tasks.Wait(ctx, task)
}

// run wraps one operation with logging, metrics and, for mutating verbs,
// a journal entry.
func (o *Orchestrator) run(ctx context.Context, verb models.Verb, vmName, snapshotName string, fn func(ctx context.Context) error) error {
	op := &models.Operation{
		ID:        uuid.NewString(),
		VM:        vmName,
		Verb:      verb,
		Snapshot:  snapshotName,
		StartedAt: time.Now().UTC(),
	}

	var err error
	if strings.TrimSpace(vmName) == "" {
		err = srvErrors.NewInvalidArgumentError("vm name is required")
	} else {
		err = fn(ctx)
	}

	op.FinishedAt = time.Now().UTC()
	op.Status = OperationStatus(err)
	if err != nil {
		op.Error = err.Error()
	}
	o.Metrics.ObserveOperation(string(verb), op.Status, op.FinishedAt.Sub(op.StartedAt))

	fields := []logger.Field{
		logger.Operation(op.ID), logger.Verb(string(verb)), logger.VM(vmName),
		logger.Status(op.Status), logger.Duration(op.FinishedAt.Sub(op.StartedAt)),
	}
	if snapshotName != "" {
		fields = append(fields, logger.Snapshot(snapshotName))
	}
	switch {
	case err == nil:
		o.log().Info("Snapshot operation completed", fields...)
	case op.Status == models.OperationRejected:
		o.log().Warn("Snapshot operation rejected", append(fields, logger.Error(err))...)
	default:
		o.log().Error("Snapshot operation failed", append(fields, logger.Error(err))...)
	}

	if verb.Mutating() && o.Journal != nil {
		if jerr := o.Journal.Record(op); jerr != nil {
			o.log().Error("Failed to journal operation", logger.Operation(op.ID), logger.Error(jerr))
		}
	}
	return err
}

// OperationStatus classifies an operation error. Errors raised before any
// vCenter task was started are rejections.
func OperationStatus(err error) string {
	switch {
	case err == nil:
		return models.OperationSucceeded
	case srvErrors.IsInvalidArgumentError(err),
		srvErrors.IsPreconditionViolationError(err),
		srvErrors.IsAmbiguousSnapshotError(err),
		srvErrors.IsResolutionError(err),
		srvErrors.IsResourceNotFoundError(err):
		return models.OperationRejected
	default:
		return models.OperationFailed
	}
}

func (o *Orchestrator) log() *logger.Logger {
	if o.Logger == nil {
		return logger.Nop()
	}
	return o.Logger
}

func (o *Orchestrator) gate() *gate.Gate {
	if o.Gate == nil {
		return gate.New(gate.DefaultMinFreePercent, gate.DefaultCapacityMultiplier)
	}
	return o.Gate
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return srvErrors.NewInvalidArgumentError("snapshot name is required")
	}
	return nil
}
