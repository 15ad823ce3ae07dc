// Package tasks waits for vCenter tasks to reach a terminal state.
//
// A Tracker subscribes to the "info" property of exactly the tasks it was
// given and long-polls for changes. Every batch of changes is folded into the
// pending set: a task reporting success leaves the set, a task reporting
// error ends the wait immediately with a RemoteTaskFailure. Anything else
// (queued, running, progress updates, objects not being waited on, repeat
// notifications) is ignored. The subscription is torn down on every exit
// path.
package tasks

import (
	"context"
	"time"

	srvErrors "github.com/EpicMandM/esxi-snapshot-service/internal/errors"
	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
	"github.com/EpicMandM/esxi-snapshot-service/internal/metrics"
	"github.com/vmware/govmomi/vim25/types"
)

const teardownTimeout = 30 * time.Second

// Subscription delivers change batches for a fixed set of tasks.
type Subscription interface {
	// WaitForUpdates blocks until something changed since version. A nil
	// update set means the server-side wait expired with no changes.
	WaitForUpdates(ctx context.Context, version string) (*types.UpdateSet, error)
	Destroy(ctx context.Context) error
}

// Collector opens subscriptions on the "info" property of tasks.
type Collector interface {
	Subscribe(ctx context.Context, tasks []types.ManagedObjectReference) (Subscription, error)
}

// Tracker waits for batches of tasks. It is safe for concurrent use as long
// as the Collector is.
type Tracker struct {
	Collector Collector
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	// Timeout bounds a whole Wait. Zero waits until the tasks finish or ctx ends.
	Timeout time.Duration
}

// Wait blocks until every task has succeeded, the first one fails, or ctx
// ends. Duplicate handles are waited on once. No tasks means nothing to wait for.
func (t *Tracker) Wait(ctx context.Context, tasks ...types.ManagedObjectReference) error {
	if len(tasks) == 0 {
		return nil
	}
	log := t.log()

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	pending := make(map[types.ManagedObjectReference]struct{}, len(tasks))
	for _, task := range tasks {
		pending[task] = struct{}{}
	}
	refs := make([]types.ManagedObjectReference, 0, len(pending))
	for ref := range pending {
		refs = append(refs, ref)
	}

	sub, err := t.Collector.Subscribe(ctx, refs)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		// Teardown must run even when ctx is already cancelled.
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if derr := sub.Destroy(tctx); derr != nil {
			log.Warn("Failed to destroy task subscription", logger.Error(derr), logger.Count(len(refs)))
		}
		t.Metrics.ObserveTaskWait(time.Since(start))
	}()

	log.Debug("Waiting for tasks", logger.Action("wait_tasks"), logger.Count(len(refs)))

	version := ""
	for len(pending) > 0 {
		set, werr := sub.WaitForUpdates(ctx, version)
		if werr != nil {
			t.observeAborted(len(pending))
			return werr
		}
		if set == nil {
			continue
		}
		version = set.Version

		before := len(pending)
		if aerr := apply(pending, set); aerr != nil {
			t.observeSucceeded(before - len(pending) - 1)
			t.Metrics.ObserveTask(metrics.TaskFailed)
			t.observeAborted(len(pending))
			log.Error("Task failed", logger.Action("wait_tasks"), logger.Error(aerr))
			return aerr
		}
		t.observeSucceeded(before - len(pending))
	}

	log.Debug("Tasks completed", logger.Action("wait_tasks"), logger.Status("success"),
		logger.Count(len(refs)), logger.Duration(time.Since(start)))
	return nil
}

func (t *Tracker) log() *logger.Logger {
	if t.Logger == nil {
		return logger.Nop()
	}
	return t.Logger
}

func (t *Tracker) observeSucceeded(n int) {
	for i := 0; i < n; i++ {
		t.Metrics.ObserveTask(metrics.TaskSucceeded)
	}
}

func (t *Tracker) observeAborted(n int) {
	for i := 0; i < n; i++ {
		t.Metrics.ObserveTask(metrics.TaskAborted)
	}
}

// apply folds one update batch into pending. Tasks that succeeded are
// removed. The first task found in the error state is returned as a
// RemoteTaskFailure and processing stops.
func apply(pending map[types.ManagedObjectReference]struct{}, set *types.UpdateSet) error {
	if set == nil {
		return nil
	}
	for _, fs := range set.FilterSet {
		for _, obj := range fs.ObjectSet {
			if _, ok := pending[obj.Obj]; !ok {
				continue
			}
			state, fault := taskState(obj.ChangeSet)
			switch state {
			case types.TaskInfoStateSuccess:
				delete(pending, obj.Obj)
			case types.TaskInfoStateError:
				delete(pending, obj.Obj)
				return srvErrors.NewRemoteTaskFailure(obj.Obj, fault)
			}
		}
	}
	return nil
}

// taskState extracts the task state and fault from a change set. Changes can
// arrive as the whole "info" object or as nested paths when the server sends
// partial updates.
func taskState(changes []types.PropertyChange) (types.TaskInfoState, *types.LocalizedMethodFault) {
	var (
		state types.TaskInfoState
		fault *types.LocalizedMethodFault
	)
	for _, c := range changes {
		if c.Op == types.PropertyChangeOpRemove {
			continue
		}
		switch c.Name {
		case "info":
			switch info := c.Val.(type) {
			case types.TaskInfo:
				state, fault = info.State, info.Error
			case *types.TaskInfo:
				if info != nil {
					state, fault = info.State, info.Error
				}
			}
		case "info.state":
			if s, ok := c.Val.(types.TaskInfoState); ok {
				state = s
			}
		case "info.error":
			switch f := c.Val.(type) {
			case types.LocalizedMethodFault:
				fault = &f
			case *types.LocalizedMethodFault:
				fault = f
			}
		}
	}
	return state, fault
}
