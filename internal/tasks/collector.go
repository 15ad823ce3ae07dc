package tasks

import (
	"context"
	"fmt"

	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/types"
)

// DefaultMaxWaitSeconds is how long the server holds a long-poll open before
// returning an empty batch.
const DefaultMaxWaitSeconds int32 = 60

// PropertyCollector subscribes through a dedicated vSphere PropertyCollector
// per Wait so concurrent waits never see each other's filters.
type PropertyCollector struct {
	Client         *vim25.Client
	MaxWaitSeconds int32
}

func NewPropertyCollector(c *vim25.Client, maxWaitSeconds int32) *PropertyCollector {
	if maxWaitSeconds <= 0 {
		maxWaitSeconds = DefaultMaxWaitSeconds
	}
	return &PropertyCollector{Client: c, MaxWaitSeconds: maxWaitSeconds}
}

// Subscribe creates a collector and a filter on the "info" property of tasks.
func (p *PropertyCollector) Subscribe(ctx context.Context, tasks []types.ManagedObjectReference) (Subscription, error) {
	res, err := methods.CreatePropertyCollector(ctx, p.Client, &types.CreatePropertyCollector{
		This: p.Client.ServiceContent.PropertyCollector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create property collector: %w", err)
	}
	sub := &subscription{client: p.Client, collector: res.Returnval, maxWait: p.MaxWaitSeconds}

	spec := types.PropertyFilterSpec{
		PropSet: []types.PropertySpec{{Type: "Task", PathSet: []string{"info"}}},
	}
	for _, task := range tasks {
		spec.ObjectSet = append(spec.ObjectSet, types.ObjectSpec{Obj: task})
	}

	if _, err := methods.CreateFilter(ctx, p.Client, &types.CreateFilter{
		This:           sub.collector,
		Spec:           spec,
		PartialUpdates: true,
	}); err != nil {
		_ = sub.Destroy(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to create task filter: %w", err)
	}
	return sub, nil
}

type subscription struct {
	client    *vim25.Client
	collector types.ManagedObjectReference
	maxWait   int32
}

func (s *subscription) WaitForUpdates(ctx context.Context, version string) (*types.UpdateSet, error) {
	maxWait := s.maxWait
	res, err := methods.WaitForUpdatesEx(ctx, s.client, &types.WaitForUpdatesEx{
		This:    s.collector,
		Version: version,
		Options: &types.WaitOptions{MaxWaitSeconds: &maxWait},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to wait for task updates: %w", err)
	}
	return res.Returnval, nil
}

// Destroy removes the collector together with its filter.
func (s *subscription) Destroy(ctx context.Context) error {
	_, err := methods.DestroyPropertyCollector(ctx, s.client, &types.DestroyPropertyCollector{This: s.collector})
	if err != nil {
		return fmt.Errorf("failed to destroy property collector: %w", err)
	}
	return nil
}
