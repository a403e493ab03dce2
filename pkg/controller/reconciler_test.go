package controller_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scarfall-net/warm-pool-autoscaler/pkg/config"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/controller"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/nodegroup"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/probe"
)

// Helpers

type fakeProber struct {
	obs *probe.PoolObservation
	err error
}

func (f *fakeProber) Observe(_ context.Context, _, _ string) (*probe.PoolObservation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.obs, nil
}

type fakeGateway struct {
	mu sync.Mutex

	state       nodegroup.State
	capacityErr error
	createErr   error

	running, pending int

	capacityReads int
	setCalls      []int
	created       int
	deleted       []string
}

func (f *fakeGateway) CurrentCapacity(_ context.Context) (nodegroup.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacityReads++
	if f.capacityErr != nil {
		return nodegroup.State{}, f.capacityErr
	}
	return f.state, nil
}

func (f *fakeGateway) SetDesiredCapacity(_ context.Context, newDesired int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, newDesired)
	f.state.DesiredSize = newDesired
	return nil
}

func (f *fakeGateway) InstanceCount(_ context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.pending, nil
}

func (f *fakeGateway) CreatePod(_ context.Context, _, podPrefix string, _ *config.PoolSpec) (probe.PodRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return probe.PodRecord{}, f.createErr
	}
	f.created++
	return probe.PodRecord{Name: fmt.Sprintf("%s-%d", podPrefix, f.created)}, nil
}

func (f *fakeGateway) DeletePod(_ context.Context, _, podName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, podName)
	return nil
}

func testSpec(mode config.Mode) *config.PoolSpec {
	spec := &config.PoolSpec{
		ClusterName:       "scarfall-dev",
		NodeGroupName:     "warmpool-ng",
		Mode:              mode,
		PreWarmMinCPU:     2,
		PodCPULimit:       0.5,
		PreWarmMinMemory:  2048,
		PodMemoryLimit:    512,
		ServerCPU:         2,
		ServerMemory:      2048,
		SleepInterval:     15 * time.Second,
		ScaleDownWaitTime: 120 * time.Second,
	}
	if err := spec.ApplyDefaultsAndValidate(); err != nil {
		panic(err)
	}
	return spec
}

func readyPool(ready int) *probe.PoolObservation {
	pods := make([]probe.PodRecord, 0, ready)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < ready; i++ {
		pods = append(pods, probe.PodRecord{
			Name:      fmt.Sprintf("warm-pool-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Phase:     probe.PhaseRunning,
			Ready:     true,
		})
	}
	return &probe.PoolObservation{ReadyCount: ready, TotalCount: ready, Pods: pods}
}

// Scenario: preWarmMinCpu=2, podCpuLimit=0.5 -> target 4; one pod present
// -> three created.
func TestRunOnce_DeficitGrows(t *testing.T) {
	gw := &fakeGateway{state: nodegroup.State{DesiredSize: 1, MinSize: 1, MaxSize: 10}}
	r := controller.NewReconciler(testSpec(config.ModeUpOnly), &fakeProber{obs: readyPool(1)}, gw)

	require.NoError(t, r.RunOnce(context.Background()))
	require.Equal(t, 3, gw.created)
	require.Empty(t, gw.deleted)
	// 4 pods pack onto a single 2-CPU/2048MB server; no capacity raise.
	require.Empty(t, gw.setCalls)
}

func TestRunOnce_GrowRaisesCapacityWhenPodsDoNotFit(t *testing.T) {
	spec := testSpec(config.ModeUpOnly)
	spec.ServerCPU = 1 // 2 pods per server, 4 pods need 2 nodes
	gw := &fakeGateway{state: nodegroup.State{DesiredSize: 1, MinSize: 1, MaxSize: 10}}
	r := controller.NewReconciler(spec, &fakeProber{obs: readyPool(0)}, gw)

	require.NoError(t, r.RunOnce(context.Background()))
	require.Equal(t, []int{2}, gw.setCalls)
	require.Equal(t, 4, gw.created)
}

func TestRunOnce_GrowClampsCapacityToMax(t *testing.T) {
	spec := testSpec(config.ModeUpOnly)
	spec.ServerCPU = 0.5 // 1 pod per server, 4 pods need 4 nodes
	gw := &fakeGateway{state: nodegroup.State{DesiredSize: 1, MinSize: 1, MaxSize: 2}}
	r := controller.NewReconciler(spec, &fakeProber{obs: readyPool(0)}, gw)

	require.NoError(t, r.RunOnce(context.Background()))
	require.Equal(t, []int{2}, gw.setCalls)
}

func TestRunOnce_GrowUsesEC2InstanceCount(t *testing.T) {
	spec := testSpec(config.ModeUpOnly)
	spec.ServerCPU = 1 // 4 pods need 2 nodes
	spec.UseEC2Count = true
	// Desired size lags, but one instance is already booting: 2 hosts exist.
	gw := &fakeGateway{
		state:   nodegroup.State{DesiredSize: 1, MinSize: 1, MaxSize: 10},
		running: 1,
		pending: 1,
	}
	r := controller.NewReconciler(spec, &fakeProber{obs: readyPool(0)}, gw)

	require.NoError(t, r.RunOnce(context.Background()))
	require.Empty(t, gw.setCalls)
	require.Equal(t, 4, gw.created)
}

func TestRunOnce_UpOnlyNeverShrinks(t *testing.T) {
	gw := &fakeGateway{state: nodegroup.State{DesiredSize: 2, MinSize: 1, MaxSize: 10}}
	now := time.Now()
	r := controller.NewReconciler(testSpec(config.ModeUpOnly), &fakeProber{obs: readyPool(6)}, gw,
		controller.WithClock(func() time.Time { return now }))

	for i := 0; i < 20; i++ {
		require.NoError(t, r.RunOnce(context.Background()))
		now = now.Add(15 * time.Second)
	}
	require.Empty(t, gw.deleted)
	require.Zero(t, gw.created)
}

// Scenario: up-down, target 4, wait 120s, poll 15s. Excess of 2 holds for
// 60s -> no action; once 120s has elapsed -> shrink by exactly 2, oldest
// ready pods first, then capacity lowered to fit the remainder.
func TestRunOnce_UpDownShrinksAfterCooldown(t *testing.T) {
	gw := &fakeGateway{state: nodegroup.State{DesiredSize: 2, MinSize: 1, MaxSize: 10}}
	start := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	now := start
	r := controller.NewReconciler(testSpec(config.ModeUpDown), &fakeProber{obs: readyPool(6)}, gw,
		controller.WithClock(func() time.Time { return now }))

	for i := 0; i <= 4; i++ { // t=0..60s
		require.NoError(t, r.RunOnce(context.Background()))
		require.Empty(t, gw.deleted, "no shrink before the wait time elapses (t=%v)", now.Sub(start))
		now = now.Add(15 * time.Second)
	}

	now = start.Add(120 * time.Second)
	require.NoError(t, r.RunOnce(context.Background()))

	require.Len(t, gw.deleted, 2)
	sort.Strings(gw.deleted)
	require.Equal(t, []string{"warm-pool-0", "warm-pool-1"}, gw.deleted)
	// 4 remaining pods fit on one server, min size is 1.
	require.Equal(t, []int{1}, gw.setCalls)
}

// Scenario: excess clears before eligibility -> cooldown resets, and a
// fresh excess must wait the full window again.
func TestRunOnce_ExcessClearingResetsCooldown(t *testing.T) {
	gw := &fakeGateway{state: nodegroup.State{DesiredSize: 2, MinSize: 1, MaxSize: 10}}
	prober := &fakeProber{obs: readyPool(6)}
	start := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	now := start
	r := controller.NewReconciler(testSpec(config.ModeUpDown), prober, gw,
		controller.WithClock(func() time.Time { return now }))

	require.NoError(t, r.RunOnce(context.Background()))
	now = now.Add(15 * time.Second)
	require.NoError(t, r.RunOnce(context.Background()))

	prober.obs = readyPool(4)
	now = now.Add(15 * time.Second)
	require.NoError(t, r.RunOnce(context.Background()))

	// Excess returns; even far past the original episode's window no
	// shrink may happen until 120s from the new episode.
	prober.obs = readyPool(6)
	now = start.Add(10 * time.Minute)
	require.NoError(t, r.RunOnce(context.Background()))
	require.Empty(t, gw.deleted)

	now = now.Add(120 * time.Second)
	require.NoError(t, r.RunOnce(context.Background()))
	require.Len(t, gw.deleted, 2)
}

// Scenario: probe failure -> cycle aborted, no gateway calls; the next
// successful observation proceeds normally.
func TestRunOnce_ProbeErrorSkipsCycle(t *testing.T) {
	gw := &fakeGateway{state: nodegroup.State{DesiredSize: 1, MinSize: 1, MaxSize: 10}}
	prober := &fakeProber{err: &probe.Error{Err: fmt.Errorf("apiserver unreachable")}}
	r := controller.NewReconciler(testSpec(config.ModeUpDown), prober, gw)

	require.Error(t, r.RunOnce(context.Background()))
	require.Zero(t, gw.capacityReads)
	require.Zero(t, gw.created)
	require.Empty(t, gw.deleted)
	require.Empty(t, gw.setCalls)

	prober.err = nil
	prober.obs = readyPool(1)
	require.NoError(t, r.RunOnce(context.Background()))
	require.Equal(t, 3, gw.created)
}

func TestRunOnce_PendingPodsNotShrunk(t *testing.T) {
	obs := readyPool(4)
	obs.Pods = append(obs.Pods,
		probe.PodRecord{Name: "warm-pool-new-1", Phase: probe.PhasePending},
		probe.PodRecord{Name: "warm-pool-new-2", Phase: probe.PhasePending},
	)
	obs.TotalCount = 6
	obs.PendingCount = 2

	gw := &fakeGateway{state: nodegroup.State{DesiredSize: 2, MinSize: 1, MaxSize: 10}}
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	r := controller.NewReconciler(testSpec(config.ModeUpDown), &fakeProber{obs: obs}, gw,
		controller.WithClock(func() time.Time { return now }))

	for i := 0; i < 20; i++ {
		require.NoError(t, r.RunOnce(context.Background()))
		now = now.Add(time.Minute)
	}
	require.Empty(t, gw.deleted)
}

func TestRunOnce_PartialCreateFailureContinues(t *testing.T) {
	gw := &fakeGateway{
		state:     nodegroup.State{DesiredSize: 1, MinSize: 1, MaxSize: 10},
		createErr: fmt.Errorf("exceeded quota"),
	}
	r := controller.NewReconciler(testSpec(config.ModeUpOnly), &fakeProber{obs: readyPool(1)}, gw)

	// Pod failures must not fail the cycle; the deficit is retried later.
	require.NoError(t, r.RunOnce(context.Background()))
	require.Zero(t, gw.created)
}

func TestRunOnce_CapacityReadFailureStillCreatesPods(t *testing.T) {
	gw := &fakeGateway{capacityErr: &nodegroup.GatewayError{Op: "describe", Err: fmt.Errorf("throttled")}}
	r := controller.NewReconciler(testSpec(config.ModeUpOnly), &fakeProber{obs: readyPool(1)}, gw)

	require.NoError(t, r.RunOnce(context.Background()))
	require.Equal(t, 3, gw.created)
	require.Empty(t, gw.setCalls)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	gw := &fakeGateway{state: nodegroup.State{DesiredSize: 1, MinSize: 1, MaxSize: 10}}
	spec := testSpec(config.ModeUpOnly)
	spec.SleepInterval = time.Millisecond
	spec.ScaleDownWaitTime = time.Millisecond
	r := controller.NewReconciler(spec, &fakeProber{obs: readyPool(4)}, gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
