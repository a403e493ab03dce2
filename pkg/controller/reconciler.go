package controller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/scarfall-net/warm-pool-autoscaler/pkg/config"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/cooldown"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/metrics"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/nodegroup"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/probe"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/strategy"
)

// Prober observes the current placeholder pod set.
type Prober interface {
	Observe(ctx context.Context, namespace, podPrefix string) (*probe.PoolObservation, error)
}

// Gateway performs every state mutation the controller issues: node group
// capacity changes and placeholder pod create/delete.
type Gateway interface {
	CurrentCapacity(ctx context.Context) (nodegroup.State, error)
	SetDesiredCapacity(ctx context.Context, newDesired int) error
	InstanceCount(ctx context.Context) (running, pending int, err error)
	CreatePod(ctx context.Context, namespace, podPrefix string, spec *config.PoolSpec) (probe.PodRecord, error)
	DeletePod(ctx context.Context, namespace, podName string) error
}

// Reconciler owns the warm pool control loop: one observe-decide-act cycle
// at a time, cooldown state carried between cycles, everything else
// rebuilt fresh from live cluster and provider reads.
type Reconciler struct {
	Spec    *config.PoolSpec
	Probe   Prober
	Gateway Gateway
	Tracker *cooldown.Tracker

	now func() time.Time
}

type ReconcilerOption func(*Reconciler)

func NewReconciler(spec *config.PoolSpec, pr Prober, gw Gateway, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		Spec:    spec,
		Probe:   pr,
		Gateway: gw,
		Tracker: cooldown.NewTracker(spec.ScaleDownWaitTime),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes reconcile cycles until the context is cancelled. A cycle in
// flight finishes before the loop exits; a new cycle never starts after
// cancellation.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		if err := r.RunOnce(ctx); err != nil {
			slog.Error("reconcile error", "err", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Reconcile loop stopped")
			return
		case <-time.After(r.Spec.SleepInterval):
		}
	}
}

// RunOnce performs a single reconciliation cycle. A failed observation
// aborts the cycle before any gateway call; action failures are logged and
// left for the next cycle to correct.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	ctx, span := otel.Tracer("warm-pool-autoscaler").Start(ctx, "reconcile")
	defer span.End()

	metrics.Cycles.Inc()
	now := r.now()
	target := r.Spec.TargetPoolSize()
	metrics.TargetPoolSize.Set(float64(target))

	obs, err := r.Probe.Observe(ctx, r.Spec.Namespace, r.Spec.PodPrefix)
	if err != nil {
		metrics.ProbeFailures.Inc()
		return err
	}
	metrics.ReadyPods.Set(float64(obs.ReadyCount))

	r.Tracker.Observe(obs.ReadyCount, target, now)
	eligible := r.Tracker.EligibleForScaleDown(now)

	action := strategy.Decide(obs, target, eligible, r.Spec.Mode)
	slog.Info("Reconcile decision",
		"action", action.String(),
		"total", obs.TotalCount,
		"ready", obs.ReadyCount,
		"pending", obs.PendingCount,
		"target", target,
		"mode", r.Spec.Mode)

	switch action.Kind {
	case strategy.Grow:
		metrics.GrowActions.Inc()
		r.grow(ctx, obs, action.Count)
	case strategy.Shrink:
		metrics.ShrinkActions.Inc()
		r.shrink(ctx, obs, action.Count)
	}
	return nil
}

// grow raises node-group capacity first so new pods have somewhere to land,
// then creates the missing pods. Individual pod failures do not abort the
// batch; the remaining deficit is corrected on a later cycle.
func (r *Reconciler) grow(ctx context.Context, obs *probe.PoolObservation, n int) {
	required := r.Spec.NodesFor(obs.TotalCount + n)

	state, err := r.Gateway.CurrentCapacity(ctx)
	if err != nil {
		metrics.GatewayFailures.Inc()
		slog.Error("Failed to read node group capacity, creating pods against current capacity", "err", err)
	} else {
		current, countErr := r.currentNodeCount(ctx, state)
		if countErr != nil {
			metrics.GatewayFailures.Inc()
			slog.Error("Failed to count node group instances, falling back to desired size", "err", countErr)
			current = state.DesiredSize
		}
		if required > current {
			desired := min(required, state.MaxSize)
			if err := r.Gateway.SetDesiredCapacity(ctx, desired); err != nil {
				metrics.GatewayFailures.Inc()
				slog.Error("Failed to raise node group capacity", "requested", desired, "err", err)
			}
		}
	}

	var failures atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Gateway.CreatePod(ctx, r.Spec.Namespace, r.Spec.PodPrefix, r.Spec); err != nil {
				failures.Add(1)
				metrics.PodOpFailures.Inc()
				slog.Warn("Placeholder pod creation failed", "err", err)
			}
		}()
	}
	wg.Wait()

	if f := failures.Load(); f > 0 {
		slog.Warn("Grow partially fulfilled", "requested", n, "failed", f)
	}
}

// shrink deletes the oldest ready pods first, then lowers node-group
// capacity to match what remains. Deleting before shrinking capacity keeps
// terminating pods from being stranded without nodes.
func (r *Reconciler) shrink(ctx context.Context, obs *probe.PoolObservation, n int) {
	victims := oldestReady(obs.Pods, n)

	var deleted atomic.Int64
	var wg sync.WaitGroup
	for _, victim := range victims {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := r.Gateway.DeletePod(ctx, r.Spec.Namespace, name); err != nil {
				metrics.PodOpFailures.Inc()
				slog.Warn("Placeholder pod deletion failed", "pod", name, "err", err)
				return
			}
			deleted.Add(1)
		}(victim.Name)
	}
	wg.Wait()

	state, err := r.Gateway.CurrentCapacity(ctx)
	if err != nil {
		metrics.GatewayFailures.Inc()
		slog.Error("Failed to read node group capacity after shrink", "err", err)
		return
	}

	remaining := obs.TotalCount - int(deleted.Load())
	required := max(r.Spec.NodesFor(remaining), state.MinSize)
	if required < state.DesiredSize {
		if err := r.Gateway.SetDesiredCapacity(ctx, required); err != nil {
			metrics.GatewayFailures.Inc()
			slog.Error("Failed to lower node group capacity", "requested", required, "err", err)
		}
	}
}

// currentNodeCount prefers a live EC2 instance count when configured, since
// booting instances are not yet visible in the node group's desired size.
func (r *Reconciler) currentNodeCount(ctx context.Context, state nodegroup.State) (int, error) {
	if !r.Spec.UseEC2Count {
		return state.DesiredSize, nil
	}
	running, pending, err := r.Gateway.InstanceCount(ctx)
	if err != nil {
		return 0, err
	}
	return running + pending, nil
}

// oldestReady picks up to n ready pods, oldest first. Evicting the oldest
// minimizes disruption to readiness probes still settling on newer pods.
func oldestReady(pods []probe.PodRecord, n int) []probe.PodRecord {
	ready := make([]probe.PodRecord, 0, len(pods))
	for _, p := range pods {
		if p.Ready {
			ready = append(ready, p)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	if len(ready) > n {
		ready = ready[:n]
	}
	return ready
}
