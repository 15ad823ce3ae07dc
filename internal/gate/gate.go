// Package gate decides whether a VM's datastores have room for a new snapshot.
package gate

import (
	"fmt"

	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
)

const (
	DefaultMinFreePercent     = 10
	DefaultCapacityMultiplier = 2
)

// Gate checks every disk of a VM against the free-space thresholds. It reads
// live datastore figures and holds no lock, so a passing result is advisory.
type Gate struct {
	MinFreePercent     int64
	CapacityMultiplier int64
}

// New returns a gate with the given thresholds. Non-positive values fall back
// to the defaults.
func New(minFreePercent, capacityMultiplier int64) *Gate {
	if minFreePercent <= 0 {
		minFreePercent = DefaultMinFreePercent
	}
	if capacityMultiplier <= 0 {
		capacityMultiplier = DefaultCapacityMultiplier
	}
	return &Gate{MinFreePercent: minFreePercent, CapacityMultiplier: capacityMultiplier}
}

// Result is the outcome of a check. On failure Disk names the first offending disk.
type Result struct {
	Passed      bool
	Disk        string
	Datastore   string
	FreePercent int64
	Reason      string
}

// Check evaluates disks in attachment order and stops at the first violation.
// A VM with no disks passes.
func (g *Gate) Check(vm *models.VM) Result {
	if vm == nil {
		return Result{Passed: true}
	}
	for _, disk := range vm.Disks {
		if r := g.checkDisk(disk); !r.Passed {
			return r
		}
	}
	return Result{Passed: true}
}

// Allow reports whether a snapshot may be created on vm.
func (g *Gate) Allow(vm *models.VM) bool {
	return g.Check(vm).Passed
}

func (g *Gate) checkDisk(disk models.Disk) Result {
	ds := disk.Datastore
	r := Result{Disk: disk.Label, Datastore: ds.Name}

	if ds.CapacityBytes <= 0 {
		r.Reason = fmt.Sprintf("datastore %s reports no capacity", ds.Name)
		return r
	}

	r.FreePercent = ds.FreeBytes * 100 / ds.CapacityBytes
	if r.FreePercent < g.MinFreePercent {
		r.Reason = fmt.Sprintf("datastore %s has %d%% free, need at least %d%%", ds.Name, r.FreePercent, g.MinFreePercent)
		return r
	}

	need := g.CapacityMultiplier * disk.CapacityBytes
	if ds.FreeBytes < need {
		r.Reason = fmt.Sprintf("datastore %s has %d bytes free, need %d (%dx disk size)", ds.Name, ds.FreeBytes, need, g.CapacityMultiplier)
		return r
	}

	r.Passed = true
	return r
}
