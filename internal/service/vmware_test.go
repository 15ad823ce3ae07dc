package service

import (
	"context"
	"testing"

	srvErrors "github.com/EpicMandM/esxi-snapshot-service/internal/errors"
	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
	"github.com/EpicMandM/esxi-snapshot-service/internal/snapshot"
	"github.com/EpicMandM/esxi-snapshot-service/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/simulator"
	"github.com/vmware/govmomi/vim25"
)

const simVMName = "DC0_H0_VM0"

func simService(ctx context.Context, t *testing.T, c *vim25.Client) (*VMwareService, *tasks.Tracker) {
	t.Helper()
	client := &govmomi.Client{Client: c, SessionManager: session.NewManager(c)}
	s, err := NewVMwareServiceWithClient(ctx, client, "", logger.Nop())
	require.NoError(t, err)
	return s, &tasks.Tracker{Collector: s.Collector(1), Logger: logger.Nop()}
}

func TestResolveVM_Simulator(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s, _ := simService(ctx, t, c)

		vm, err := s.ResolveVM(ctx, simVMName)
		require.NoError(t, err)
		assert.Equal(t, simVMName, vm.Name)
		assert.Equal(t, "VirtualMachine", vm.Ref.Type)
		assert.Nil(t, vm.Snapshot)

		require.NotEmpty(t, vm.Disks)
		disk := vm.Disks[0]
		assert.NotEmpty(t, disk.Label)
		assert.Positive(t, disk.CapacityBytes)
		assert.Equal(t, "LocalDS_0", disk.Datastore.Name)
		assert.Positive(t, disk.Datastore.CapacityBytes)
	})
}

func TestResolveVM_NotFound(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s, _ := simService(ctx, t, c)

		_, err := s.ResolveVM(ctx, "no-such-vm")
		require.Error(t, err)
		assert.True(t, srvErrors.IsResolutionError(err))
	})
}

func TestNewVMwareServiceWithClient_UnknownDatacenter(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		client := &govmomi.Client{Client: c, SessionManager: session.NewManager(c)}
		_, err := NewVMwareServiceWithClient(ctx, client, "DC-missing", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get datacenter")
	})
}

func TestSnapshotLifecycle_Simulator(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s, tracker := simService(ctx, t, c)
		vm, err := s.ResolveVM(ctx, simVMName)
		require.NoError(t, err)

		task, err := s.CreateSnapshot(ctx, vm, "base", "clean install", false, false)
		require.NoError(t, err)
		require.NoError(t, tracker.Wait(ctx, task))

		task, err = s.CreateSnapshot(ctx, vm, "patched", "", false, false)
		require.NoError(t, err)
		require.NoError(t, tracker.Wait(ctx, task))

		info, err := s.Snapshots(ctx, vm)
		require.NoError(t, err)
		tree := snapshot.FromVSphere(info)
		chain := tree.Chain()
		require.Len(t, chain, 2)
		assert.Equal(t, "base", chain[0].Name)
		assert.Equal(t, "patched", chain[1].Name)

		current, err := tree.Current()
		require.NoError(t, err)
		assert.Equal(t, "patched", current.Name)

		base, err := tree.Resolve("base")
		require.NoError(t, err)
		task, err = s.RevertSnapshot(ctx, base.Ref)
		require.NoError(t, err)
		require.NoError(t, tracker.Wait(ctx, task))

		info, err = s.Snapshots(ctx, vm)
		require.NoError(t, err)
		current, err = snapshot.FromVSphere(info).Current()
		require.NoError(t, err)
		assert.Equal(t, "base", current.Name)

		patched, err := snapshot.FromVSphere(info).Resolve("patched")
		require.NoError(t, err)
		task, err = s.RemoveSnapshot(ctx, patched.Ref, false)
		require.NoError(t, err)
		require.NoError(t, tracker.Wait(ctx, task))

		info, err = s.Snapshots(ctx, vm)
		require.NoError(t, err)
		assert.Empty(t, snapshot.FromVSphere(info).FindByName("patched"))

		task, err = s.RemoveAllSnapshots(ctx, vm)
		require.NoError(t, err)
		require.NoError(t, tracker.Wait(ctx, task))

		info, err = s.Snapshots(ctx, vm)
		require.NoError(t, err)
		assert.True(t, snapshot.FromVSphere(info).Empty())
	})
}

func TestClose_NilClient(t *testing.T) {
	s := &VMwareService{}
	assert.NoError(t, s.Close(context.Background()))
}
