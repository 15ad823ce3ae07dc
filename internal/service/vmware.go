package service

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/EpicMandM/esxi-snapshot-service/internal/config"
	srvErrors "github.com/EpicMandM/esxi-snapshot-service/internal/errors"
	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
	"github.com/EpicMandM/esxi-snapshot-service/internal/tasks"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
)

var vmProperties = []string{"name", "snapshot", "config.hardware.device"}

type VMwareService struct {
	client *govmomi.Client
	finder *find.Finder
	logger *logger.Logger
	host   string
}

func NewVMwareService(ctx context.Context, cfg *config.Config, log *logger.Logger) (*VMwareService, error) {
	u, err := soap.ParseURL(cfg.VSphereURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	u.User = url.UserPassword(cfg.VSphereUsername, cfg.VSpherePassword)

	client, err := govmomi.NewClient(ctx, u, cfg.VSphereInsecure)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s, err := NewVMwareServiceWithClient(ctx, client, cfg.VSphereDatacenter, log)
	if err != nil {
		_ = client.Logout(ctx)
		return nil, err
	}
	return s, nil
}

// NewVMwareServiceWithClient builds the service on an already authenticated
// client. An empty datacenter selects the default one.
func NewVMwareServiceWithClient(ctx context.Context, client *govmomi.Client, datacenter string, log *logger.Logger) (*VMwareService, error) {
	if log == nil {
		log = logger.NewWithWriter(io.Discard)
	}

	finder := find.NewFinder(client.Client, true)
	var (
		dc  *object.Datacenter
		err error
	)
	if datacenter == "" {
		dc, err = finder.DefaultDatacenter(ctx)
	} else {
		dc, err = finder.Datacenter(ctx, datacenter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get datacenter: %w", err)
	}
	finder.SetDatacenter(dc)

	return &VMwareService{
		client: client,
		finder: finder,
		logger: log,
		host:   client.URL().Hostname(),
	}, nil
}

// Host is the vCenter host name the service is connected to.
func (s *VMwareService) Host() string {
	return s.host
}

// Collector returns a task collector sharing this service's session.
func (s *VMwareService) Collector(maxWaitSeconds int32) *tasks.PropertyCollector {
	return tasks.NewPropertyCollector(s.client.Client, maxWaitSeconds)
}

func (s *VMwareService) Close(ctx context.Context) error {
	if s.client != nil {
		return s.client.Logout(ctx)
	}
	return nil
}

// ResolveVM looks the VM up by name and loads its snapshot tree, disks, and
// the current capacity of every datastore backing those disks.
func (s *VMwareService) ResolveVM(ctx context.Context, name string) (*models.VM, error) {
	if s == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	vm, err := s.finder.VirtualMachine(ctx, name)
	if err != nil {
		return nil, srvErrors.NewResolutionError(name, err)
	}

	var mvm mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), vmProperties, &mvm); err != nil {
		return nil, srvErrors.NewResolutionError(name, fmt.Errorf("failed to get VM properties: %w", err))
	}

	result := &models.VM{
		Name:     mvm.Name,
		Ref:      vm.Reference(),
		Snapshot: mvm.Snapshot,
	}
	if mvm.Config != nil {
		disks, err := s.resolveDisks(ctx, object.VirtualDeviceList(mvm.Config.Hardware.Device))
		if err != nil {
			return nil, err
		}
		result.Disks = disks
	}

	s.logger.Debug("VM resolved", logger.VM(name), logger.Count(len(result.Disks)))
	return result, nil
}

func (s *VMwareService) resolveDisks(ctx context.Context, devices object.VirtualDeviceList) ([]models.Disk, error) {
	var (
		disks []models.Disk
		refs  []types.ManagedObjectReference
		seen  = map[types.ManagedObjectReference]bool{}
	)
	for _, device := range devices.SelectByType((*types.VirtualDisk)(nil)) {
		vd := device.(*types.VirtualDisk)
		disk := models.Disk{
			Label:         devices.Name(vd),
			CapacityBytes: vd.CapacityInBytes,
		}
		if info := vd.GetVirtualDevice().DeviceInfo; info != nil && info.GetDescription() != nil {
			disk.Label = info.GetDescription().Label
		}
		if backing, ok := vd.Backing.(types.BaseVirtualDeviceFileBackingInfo); ok {
			if ref := backing.GetVirtualDeviceFileBackingInfo().Datastore; ref != nil {
				disk.Datastore.Ref = *ref
				if !seen[*ref] {
					seen[*ref] = true
					refs = append(refs, *ref)
				}
			}
		}
		disks = append(disks, disk)
	}
	if len(refs) == 0 {
		return disks, nil
	}

	var stores []mo.Datastore
	pc := property.DefaultCollector(s.client.Client)
	if err := pc.Retrieve(ctx, refs, []string{"name", "summary"}, &stores); err != nil {
		return nil, fmt.Errorf("failed to get datastore capacity: %w", err)
	}
	byRef := make(map[types.ManagedObjectReference]mo.Datastore, len(stores))
	for _, ds := range stores {
		byRef[ds.Reference()] = ds
	}
	for i := range disks {
		ds, ok := byRef[disks[i].Datastore.Ref]
		if !ok {
			continue
		}
		disks[i].Datastore.Name = ds.Name
		disks[i].Datastore.CapacityBytes = ds.Summary.Capacity
		disks[i].Datastore.FreeBytes = ds.Summary.FreeSpace
	}
	return disks, nil
}

// Snapshots re-reads the snapshot tree of vm.
func (s *VMwareService) Snapshots(ctx context.Context, vm *models.VM) (*types.VirtualMachineSnapshotInfo, error) {
	var mvm mo.VirtualMachine
	pc := property.DefaultCollector(s.client.Client)
	if err := pc.RetrieveOne(ctx, vm.Ref, []string{"snapshot"}, &mvm); err != nil {
		return nil, fmt.Errorf("failed to get snapshots of %s: %w", vm.Name, err)
	}
	return mvm.Snapshot, nil
}

func (s *VMwareService) CreateSnapshot(ctx context.Context, vm *models.VM, name, description string, memory, quiesce bool) (types.ManagedObjectReference, error) {
	task, err := object.NewVirtualMachine(s.client.Client, vm.Ref).CreateSnapshot(ctx, name, description, memory, quiesce)
	if err != nil {
		return types.ManagedObjectReference{}, fmt.Errorf("failed to create snapshot: %w", err)
	}
	return task.Reference(), nil
}

func (s *VMwareService) RemoveSnapshot(ctx context.Context, snapshot types.ManagedObjectReference, removeChildren bool) (types.ManagedObjectReference, error) {
	res, err := methods.RemoveSnapshot_Task(ctx, s.client.Client, &types.RemoveSnapshot_Task{
		This:           snapshot,
		RemoveChildren: removeChildren,
		Consolidate:    types.NewBool(true),
	})
	if err != nil {
		return types.ManagedObjectReference{}, fmt.Errorf("failed to remove snapshot: %w", err)
	}
	return res.Returnval, nil
}

func (s *VMwareService) RevertSnapshot(ctx context.Context, snapshot types.ManagedObjectReference) (types.ManagedObjectReference, error) {
	res, err := methods.RevertToSnapshot_Task(ctx, s.client.Client, &types.RevertToSnapshot_Task{
		This: snapshot,
	})
	if err != nil {
		return types.ManagedObjectReference{}, fmt.Errorf("failed to revert: %w", err)
	}
	return res.Returnval, nil
}

func (s *VMwareService) RemoveAllSnapshots(ctx context.Context, vm *models.VM) (types.ManagedObjectReference, error) {
	res, err := methods.RemoveAllSnapshots_Task(ctx, s.client.Client, &types.RemoveAllSnapshots_Task{
		This:        vm.Ref,
		Consolidate: types.NewBool(true),
	})
	if err != nil {
		return types.ManagedObjectReference{}, fmt.Errorf("failed to remove all snapshots: %w", err)
	}
	return res.Returnval, nil
}
