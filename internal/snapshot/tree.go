package snapshot

import (
	"time"

	srvErrors "github.com/EpicMandM/esxi-snapshot-service/internal/errors"
	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
	"github.com/vmware/govmomi/vim25/types"
)

// Node is one snapshot in a VM's snapshot tree.
type Node struct {
	Name        string
	Description string
	Created     time.Time
	State       string
	Quiesced    bool
	// Ref is the handle mutation calls are issued against. Names are not unique.
	Ref      types.ManagedObjectReference
	Children []*Node
}

// Tree is a VM's snapshot hierarchy. At most one node is current.
type Tree struct {
	Roots      []*Node
	CurrentRef *types.ManagedObjectReference
}

// FromVSphere converts the snapshot property of a VM. A nil info yields an empty tree.
func FromVSphere(info *types.VirtualMachineSnapshotInfo) *Tree {
	t := &Tree{}
	if info == nil {
		return t
	}
	if info.CurrentSnapshot != nil {
		ref := *info.CurrentSnapshot
		t.CurrentRef = &ref
	}

	type frame struct {
		src []types.VirtualMachineSnapshotTree
		dst *[]*Node
	}
	stack := []frame{{src: info.RootSnapshotList, dst: &t.Roots}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for i := range f.src {
			s := &f.src[i]
			n := &Node{
				Name:        s.Name,
				Description: s.Description,
				Created:     s.CreateTime,
				State:       string(s.State),
				Quiesced:    s.Quiesced,
				Ref:         s.Snapshot,
			}
			*f.dst = append(*f.dst, n)
			if len(s.ChildSnapshotList) > 0 {
				stack = append(stack, frame{src: s.ChildSnapshotList, dst: &n.Children})
			}
		}
	}
	return t
}

// Empty reports whether the tree holds no snapshots.
func (t *Tree) Empty() bool {
	return t == nil || len(t.Roots) == 0
}

// Chain walks the first root and then always the first child, stopping at a
// node without children. Sibling branches are not listed.
func (t *Tree) Chain() []models.SnapshotSummary {
	result := []models.SnapshotSummary{}
	if t.Empty() {
		return result
	}
	for n := t.Roots[0]; n != nil; {
		result = append(result, n.Summary())
		if len(n.Children) == 0 {
			break
		}
		n = n.Children[0]
	}
	return result
}

// All lists every snapshot in pre-order.
func (t *Tree) All() []models.SnapshotSummary {
	result := []models.SnapshotSummary{}
	t.walk(func(n *Node) bool {
		result = append(result, n.Summary())
		return true
	})
	return result
}

// Current returns the node marked current.
func (t *Tree) Current() (*Node, error) {
	if t == nil || t.CurrentRef == nil {
		return nil, srvErrors.NewCurrentSnapshotNotFoundError()
	}
	var found *Node
	t.walk(func(n *Node) bool {
		if n.Ref.Value == t.CurrentRef.Value {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil, srvErrors.NewCurrentSnapshotNotFoundError()
	}
	return found, nil
}

// FindByName returns every node whose name equals name exactly, in pre-order.
func (t *Tree) FindByName(name string) []*Node {
	var matches []*Node
	t.walk(func(n *Node) bool {
		if n.Name == name {
			matches = append(matches, n)
		}
		return true
	})
	return matches
}

// Resolve returns the single node named name, or an AmbiguousSnapshotError
// when the name matches zero or several nodes.
func (t *Tree) Resolve(name string) (*Node, error) {
	matches := t.FindByName(name)
	if len(matches) != 1 {
		return nil, srvErrors.NewAmbiguousSnapshotError(name, len(matches))
	}
	return matches[0], nil
}

// walk visits nodes depth-first in list order until fn returns false.
func (t *Tree) walk(fn func(*Node) bool) {
	if t.Empty() {
		return
	}
	stack := make([]*Node, 0, len(t.Roots))
	for i := len(t.Roots) - 1; i >= 0; i-- {
		stack = append(stack, t.Roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			return
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// Summary returns the list record for the node.
func (n *Node) Summary() models.SnapshotSummary {
	return models.SnapshotSummary{
		Name:          n.Name,
		CreateTime:    n.Created.Format(time.RFC3339),
		SnapshotState: n.State,
		Description:   n.Description,
	}
}
