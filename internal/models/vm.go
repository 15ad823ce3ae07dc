package models

import (
	"github.com/vmware/govmomi/vim25/types"
)

// Datastore is the backing storage of a virtual disk as reported at query time.
type Datastore struct {
	Name          string                       `json:"name"`
	Ref           types.ManagedObjectReference `json:"-"`
	CapacityBytes int64                        `json:"capacity_bytes"`
	FreeBytes     int64                        `json:"free_bytes"`
}

// Disk is a virtual disk attached to a VM.
type Disk struct {
	Label         string    `json:"label"`
	CapacityBytes int64     `json:"capacity_bytes"`
	Datastore     Datastore `json:"datastore"`
}

// VM is a resolved virtual machine handle, valid for the duration of one request.
// Disks are kept in attachment order.
type VM struct {
	Name     string                            `json:"name"`
	Ref      types.ManagedObjectReference      `json:"-"`
	Disks    []Disk                            `json:"disks"`
	Snapshot *types.VirtualMachineSnapshotInfo `json:"-"`
}
