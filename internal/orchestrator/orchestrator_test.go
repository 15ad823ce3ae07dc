package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	srvErrors "github.com/EpicMandM/esxi-snapshot-service/internal/errors"
	"github.com/EpicMandM/esxi-snapshot-service/internal/gate"
	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi/vim25/types"
)

// --- mocks ---

type mockVMware struct {
	resolveFn   func(ctx context.Context, name string) (*models.VM, error)
	snapshotsFn func(ctx context.Context, vm *models.VM) (*types.VirtualMachineSnapshotInfo, error)
	createFn    func(ctx context.Context, vm *models.VM, name, desc string, memory, quiesce bool) (types.ManagedObjectReference, error)
	removeFn    func(ctx context.Context, snap types.ManagedObjectReference, children bool) (types.ManagedObjectReference, error)
	revertFn    func(ctx context.Context, snap types.ManagedObjectReference) (types.ManagedObjectReference, error)
	removeAllFn func(ctx context.Context, vm *models.VM) (types.ManagedObjectReference, error)

	mutations int
}

func (m *mockVMware) ResolveVM(ctx context.Context, name string) (*models.VM, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, name)
	}
	return &models.VM{Name: name}, nil
}

func (m *mockVMware) Snapshots(ctx context.Context, vm *models.VM) (*types.VirtualMachineSnapshotInfo, error) {
	if m.snapshotsFn != nil {
		return m.snapshotsFn(ctx, vm)
	}
	return vm.Snapshot, nil
}

func (m *mockVMware) CreateSnapshot(ctx context.Context, vm *models.VM, name, desc string, memory, quiesce bool) (types.ManagedObjectReference, error) {
	m.mutations++
	if m.createFn != nil {
		return m.createFn(ctx, vm, name, desc, memory, quiesce)
	}
	return task("task-create"), nil
}

func (m *mockVMware) RemoveSnapshot(ctx context.Context, snap types.ManagedObjectReference, children bool) (types.ManagedObjectReference, error) {
	m.mutations++
	if m.removeFn != nil {
		return m.removeFn(ctx, snap, children)
	}
	return task("task-remove"), nil
}

func (m *mockVMware) RevertSnapshot(ctx context.Context, snap types.ManagedObjectReference) (types.ManagedObjectReference, error) {
	m.mutations++
	if m.revertFn != nil {
		return m.revertFn(ctx, snap)
	}
	return task("task-revert"), nil
}

func (m *mockVMware) RemoveAllSnapshots(ctx context.Context, vm *models.VM) (types.ManagedObjectReference, error) {
	m.mutations++
	if m.removeAllFn != nil {
		return m.removeAllFn(ctx, vm)
	}
	return task("task-remove-all"), nil
}

type mockTasks struct {
	waitFn func(ctx context.Context, tasks ...types.ManagedObjectReference) error
	waited []types.ManagedObjectReference
}

func (m *mockTasks) Wait(ctx context.Context, tasks ...types.ManagedObjectReference) error {
	m.waited = append(m.waited, tasks...)
	if m.waitFn != nil {
		return m.waitFn(ctx, tasks...)
	}
	return nil
}

type mockJournal struct {
	ops      []models.Operation
	recordFn func(op *models.Operation) error
}

func (m *mockJournal) Record(op *models.Operation) error {
	m.ops = append(m.ops, *op)
	if m.recordFn != nil {
		return m.recordFn(op)
	}
	return nil
}

func (m *mockJournal) List(vm string, limit int) ([]models.Operation, error) {
	return m.ops, nil
}

func (m *mockJournal) Get(id string) (*models.Operation, error) {
	for i := range m.ops {
		if m.ops[i].ID == id {
			return &m.ops[i], nil
		}
	}
	return nil, nil
}

// --- helpers ---

func task(value string) types.ManagedObjectReference {
	return types.ManagedObjectReference{Type: "Task", Value: value}
}

func snapRef(value string) types.ManagedObjectReference {
	return types.ManagedObjectReference{Type: "VirtualMachineSnapshot", Value: value}
}

func snapTree(name, ref string, children ...types.VirtualMachineSnapshotTree) types.VirtualMachineSnapshotTree {
	return types.VirtualMachineSnapshotTree{
		Name:              name,
		Snapshot:          snapRef(ref),
		CreateTime:        time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
		State:             types.VirtualMachinePowerStatePoweredOn,
		ChildSnapshotList: children,
	}
}

// webVM has base -> {nightly -> patched, nightly}; patched is current.
func webVM() *models.VM {
	current := snapRef("snap-3")
	return &models.VM{
		Name: "web",
		Disks: []models.Disk{{
			Label:         "Hard disk 1",
			CapacityBytes: 100,
			Datastore:     models.Datastore{Name: "LocalDS_0", CapacityBytes: 1000, FreeBytes: 250},
		}},
		Snapshot: &types.VirtualMachineSnapshotInfo{
			CurrentSnapshot: &current,
			RootSnapshotList: []types.VirtualMachineSnapshotTree{
				snapTree("base", "snap-1",
					snapTree("nightly", "snap-2", snapTree("patched", "snap-3")),
					snapTree("nightly", "snap-4"),
				),
			},
		},
	}
}

func newTestOrch() (*Orchestrator, *mockVMware, *mockTasks, *mockJournal, *bytes.Buffer) {
	var buf bytes.Buffer
	vmw := &mockVMware{resolveFn: func(ctx context.Context, name string) (*models.VM, error) {
		vm := webVM()
		vm.Name = name
		return vm, nil
	}}
	tasks := &mockTasks{}
	journal := &mockJournal{}
	return &Orchestrator{
		Logger:  logger.NewWithWriter(&buf),
		VMware:  vmw,
		Tasks:   tasks,
		Gate:    gate.New(10, 2),
		Journal: journal,
	}, vmw, tasks, journal, &buf
}

// --- Create ---

func TestCreate_Success(t *testing.T) {
	o, vmw, tasks, journal, _ := newTestOrch()
	var gotMemory, gotQuiesce bool
	vmw.createFn = func(ctx context.Context, vm *models.VM, name, desc string, memory, quiesce bool) (types.ManagedObjectReference, error) {
		gotMemory, gotQuiesce = memory, quiesce
		assert.Equal(t, "pre-upgrade", name)
		assert.Equal(t, "before kernel update", desc)
		return task("task-7"), nil
	}
	vmw.snapshotsFn = func(ctx context.Context, vm *models.VM) (*types.VirtualMachineSnapshotInfo, error) {
		info := webVM().Snapshot
		info.RootSnapshotList[0].ChildSnapshotList[1].ChildSnapshotList = []types.VirtualMachineSnapshotTree{snapTree("pre-upgrade", "snap-9")}
		current := snapRef("snap-9")
		info.CurrentSnapshot = &current
		return info, nil
	}

	resp, err := o.Create(context.Background(), "web", CreateRequest{
		Name:        "pre-upgrade",
		Description: "before kernel update",
		Options:     models.SnapshotOptions{Memory: true},
	})

	require.NoError(t, err)
	assert.True(t, gotMemory)
	assert.False(t, gotQuiesce)
	assert.Equal(t, []types.ManagedObjectReference{task("task-7")}, tasks.waited)
	assert.Equal(t, "web", resp.VM)
	assert.True(t, resp.Memory)
	require.NotNil(t, resp.Current)
	assert.Equal(t, "pre-upgrade", resp.Current.Name)

	require.Len(t, journal.ops, 1)
	assert.Equal(t, models.VerbCreate, journal.ops[0].Verb)
	assert.Equal(t, models.OperationSucceeded, journal.ops[0].Status)
	assert.NotEmpty(t, journal.ops[0].ID)
}

func TestCreate_GateRejects(t *testing.T) {
	o, vmw, tasks, journal, buf := newTestOrch()
	vmw.resolveFn = func(ctx context.Context, name string) (*models.VM, error) {
		vm := webVM()
		vm.Disks[0].Datastore.FreeBytes = 90
		return vm, nil
	}

	_, err := o.Create(context.Background(), "web", CreateRequest{Name: "s1"})

	require.Error(t, err)
	assert.True(t, srvErrors.IsPreconditionViolationError(err))
	assert.Equal(t, 0, vmw.mutations)
	assert.Empty(t, tasks.waited)
	require.Len(t, journal.ops, 1)
	assert.Equal(t, models.OperationRejected, journal.ops[0].Status)
	assert.Contains(t, buf.String(), "Snapshot condition not met")
}

func TestCreate_TaskFails(t *testing.T) {
	o, _, tasks, journal, _ := newTestOrch()
	tasks.waitFn = func(ctx context.Context, refs ...types.ManagedObjectReference) error {
		return srvErrors.NewRemoteTaskFailure(refs[0], &types.LocalizedMethodFault{LocalizedMessage: "quiesce failed"})
	}

	resp, err := o.Create(context.Background(), "web", CreateRequest{Name: "s1", Options: models.SnapshotOptions{Quiesce: true}})

	assert.Nil(t, resp)
	assert.True(t, srvErrors.IsRemoteTaskFailure(err))
	require.Len(t, journal.ops, 1)
	assert.Equal(t, models.OperationFailed, journal.ops[0].Status)
	assert.Contains(t, journal.ops[0].Error, "quiesce failed")
}

func TestCreate_RefetchFailureKeepsSuccess(t *testing.T) {
	o, vmw, _, _, buf := newTestOrch()
	vmw.snapshotsFn = func(ctx context.Context, vm *models.VM) (*types.VirtualMachineSnapshotInfo, error) {
		return nil, errors.New("session expired")
	}

	resp, err := o.Create(context.Background(), "web", CreateRequest{Name: "s1"})

	require.NoError(t, err)
	assert.Nil(t, resp.Current)
	assert.Contains(t, buf.String(), "Failed to re-read snapshot tree")
}

func TestCreate_MissingNames(t *testing.T) {
	tests := []struct {
		name   string
		vm     string
		snap   string
		expect string
	}{
		{"missing snapshot name", "web", "", "snapshot name is required"},
		{"blank snapshot name", "web", "   ", "snapshot name is required"},
		{"missing vm name", "", "s1", "vm name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, vmw, _, _, _ := newTestOrch()
			resolved := false
			vmw.resolveFn = func(ctx context.Context, name string) (*models.VM, error) {
				resolved = true
				return webVM(), nil
			}

			_, err := o.Create(context.Background(), tt.vm, CreateRequest{Name: tt.snap})

			require.Error(t, err)
			assert.True(t, srvErrors.IsInvalidArgumentError(err))
			assert.EqualError(t, err, tt.expect)
			assert.False(t, resolved)
			assert.Equal(t, 0, vmw.mutations)
		})
	}
}

func TestCreate_ResolutionError(t *testing.T) {
	o, vmw, _, journal, _ := newTestOrch()
	vmw.resolveFn = func(ctx context.Context, name string) (*models.VM, error) {
		return nil, srvErrors.NewResolutionError(name, errors.New("vm 'ghost' not found"))
	}

	_, err := o.Create(context.Background(), "ghost", CreateRequest{Name: "s1"})

	assert.True(t, srvErrors.IsResolutionError(err))
	assert.Equal(t, 0, vmw.mutations)
	assert.Equal(t, models.OperationRejected, journal.ops[0].Status)
}

// --- List ---

func TestListAll_Chain(t *testing.T) {
	o, vmw, _, journal, _ := newTestOrch()

	resp, err := o.ListAll(context.Background(), "web")

	require.NoError(t, err)
	assert.Equal(t, models.ViewChain, resp.View)
	assert.Equal(t, 3, resp.Total)
	var names []string
	for _, s := range resp.Snapshots {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"base", "nightly", "patched"}, names)
	assert.Equal(t, 0, vmw.mutations)
	assert.Empty(t, journal.ops, "reads are not journaled")
}

func TestListTree_AllBranches(t *testing.T) {
	o, _, _, _, _ := newTestOrch()

	resp, err := o.ListTree(context.Background(), "web")

	require.NoError(t, err)
	assert.Equal(t, models.ViewTree, resp.View)
	assert.Equal(t, 4, resp.Total)
}

func TestListAll_NoSnapshots(t *testing.T) {
	o, vmw, _, _, _ := newTestOrch()
	vmw.resolveFn = func(ctx context.Context, name string) (*models.VM, error) {
		return &models.VM{Name: name}, nil
	}

	resp, err := o.ListAll(context.Background(), "web")

	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Snapshots)
}

func TestListCurrent(t *testing.T) {
	o, vmw, _, _, _ := newTestOrch()

	cur, err := o.ListCurrent(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "patched", cur.Name)
	assert.Equal(t, "poweredOn", cur.SnapshotState)

	vmw.resolveFn = func(ctx context.Context, name string) (*models.VM, error) {
		return &models.VM{Name: name}, nil
	}
	_, err = o.ListCurrent(context.Background(), "web")
	assert.True(t, srvErrors.IsResourceNotFoundError(err))
}

// --- Delete / Revert ---

func TestDelete_Unique(t *testing.T) {
	o, vmw, tasks, journal, _ := newTestOrch()
	var gotRef types.ManagedObjectReference
	var gotChildren bool
	vmw.removeFn = func(ctx context.Context, snap types.ManagedObjectReference, children bool) (types.ManagedObjectReference, error) {
		gotRef, gotChildren = snap, children
		return task("task-3"), nil
	}

	err := o.Delete(context.Background(), "web", "patched", true)

	require.NoError(t, err)
	assert.Equal(t, snapRef("snap-3"), gotRef)
	assert.True(t, gotChildren)
	assert.Equal(t, []types.ManagedObjectReference{task("task-3")}, tasks.waited)
	assert.Equal(t, models.VerbDelete, journal.ops[0].Verb)
	assert.Equal(t, "patched", journal.ops[0].Snapshot)
}

func TestDelete_AmbiguousOrMissing(t *testing.T) {
	tests := []struct {
		snap    string
		matches int
	}{
		{"nightly", 2},
		{"does-not-exist", 0},
	}
	for _, tt := range tests {
		t.Run(tt.snap, func(t *testing.T) {
			o, vmw, tasks, journal, _ := newTestOrch()

			err := o.Delete(context.Background(), "web", tt.snap, false)

			var amb *srvErrors.AmbiguousSnapshotError
			require.ErrorAs(t, err, &amb)
			assert.Equal(t, tt.matches, amb.Matches)
			assert.Equal(t, 0, vmw.mutations)
			assert.Empty(t, tasks.waited)
			assert.Equal(t, models.OperationRejected, journal.ops[0].Status)
		})
	}
}

func TestRevert(t *testing.T) {
	o, vmw, tasks, _, _ := newTestOrch()
	var gotRef types.ManagedObjectReference
	vmw.revertFn = func(ctx context.Context, snap types.ManagedObjectReference) (types.ManagedObjectReference, error) {
		gotRef = snap
		return task("task-r"), nil
	}

	require.NoError(t, o.Revert(context.Background(), "web", "base"))
	assert.Equal(t, snapRef("snap-1"), gotRef)
	assert.Equal(t, []types.ManagedObjectReference{task("task-r")}, tasks.waited)

	err := o.Revert(context.Background(), "web", "nightly")
	assert.True(t, srvErrors.IsAmbiguousSnapshotError(err))
	assert.Equal(t, 1, vmw.mutations)
}

func TestRevert_CallError(t *testing.T) {
	o, vmw, tasks, journal, _ := newTestOrch()
	vmw.revertFn = func(ctx context.Context, snap types.ManagedObjectReference) (types.ManagedObjectReference, error) {
		return types.ManagedObjectReference{}, fmt.Errorf("failed to revert: %w", errors.New("connection refused"))
	}

	err := o.Revert(context.Background(), "web", "base")

	require.Error(t, err)
	assert.Empty(t, tasks.waited)
	assert.Equal(t, models.OperationFailed, journal.ops[0].Status)
}

// --- DeleteAll ---

func TestDeleteAll(t *testing.T) {
	o, vmw, tasks, journal, _ := newTestOrch()

	require.NoError(t, o.DeleteAll(context.Background(), "web"))
	assert.Equal(t, 1, vmw.mutations)
	assert.Equal(t, []types.ManagedObjectReference{task("task-remove-all")}, tasks.waited)
	assert.Equal(t, models.VerbDeleteAll, journal.ops[0].Verb)
}

// --- Journal ---

func TestJournalFailureDoesNotChangeOutcome(t *testing.T) {
	o, _, _, journal, buf := newTestOrch()
	journal.recordFn = func(op *models.Operation) error { return errors.New("database is locked") }

	require.NoError(t, o.DeleteAll(context.Background(), "web"))
	assert.Contains(t, buf.String(), "Failed to journal operation")
}

func TestOperations(t *testing.T) {
	o, _, _, _, _ := newTestOrch()
	require.NoError(t, o.DeleteAll(context.Background(), "web"))

	ops, err := o.Operations("web", 10)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	o.Journal = nil
	ops, err = o.Operations("web", 10)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestOperation(t *testing.T) {
	o, _, _, journal, _ := newTestOrch()
	require.NoError(t, o.Revert(context.Background(), "web", "patched"))
	require.Len(t, journal.ops, 1)
	id := journal.ops[0].ID

	op, err := o.Operation(id)
	require.NoError(t, err)
	assert.Equal(t, models.VerbRevert, op.Verb)
	assert.Equal(t, "patched", op.Snapshot)

	_, err = o.Operation("unknown")
	assert.True(t, srvErrors.IsResourceNotFoundError(err))

	o.Journal = nil
	_, err = o.Operation(id)
	assert.True(t, srvErrors.IsResourceNotFoundError(err))
}

func TestNilLogger(t *testing.T) {
	o, _, _, journal, _ := newTestOrch()
	o.Logger = nil
	o.Gate = gate.New(100, 2)
	journal.recordFn = func(op *models.Operation) error { return errors.New("database is locked") }

	_, err := o.Create(context.Background(), "web", CreateRequest{Name: "snap"})
	assert.True(t, srvErrors.IsPreconditionViolationError(err))
	assert.NoError(t, o.DeleteAll(context.Background(), "web"))
}

func TestOperationStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, models.OperationSucceeded},
		{"invalid", srvErrors.NewInvalidArgumentError("x"), models.OperationRejected},
		{"precondition", srvErrors.NewPreconditionViolationError("vm", "d", "r"), models.OperationRejected},
		{"ambiguous", srvErrors.NewAmbiguousSnapshotError("x", 2), models.OperationRejected},
		{"not found", srvErrors.NewCurrentSnapshotNotFoundError(), models.OperationRejected},
		{"resolution", srvErrors.NewResolutionError("vm", nil), models.OperationRejected},
		{"task", srvErrors.NewRemoteTaskFailure(task("t"), nil), models.OperationFailed},
		{"other", errors.New("boom"), models.OperationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OperationStatus(tt.err))
		})
	}
}

func TestNilGateUsesDefaults(t *testing.T) {
	o, vmw, _, _, _ := newTestOrch()
	o.Gate = nil
	vmw.resolveFn = func(ctx context.Context, name string) (*models.VM, error) {
		vm := webVM()
		vm.Disks[0].Datastore.FreeBytes = 90
		return vm, nil
	}

	_, err := o.Create(context.Background(), "web", CreateRequest{Name: "s1"})
	assert.True(t, srvErrors.IsPreconditionViolationError(err))
}
