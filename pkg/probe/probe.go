package probe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// PodPhase classifies a placeholder pod for scaling decisions.
type PodPhase string

const (
	PhasePending     PodPhase = "Pending"
	PhaseRunning     PodPhase = "Running"
	PhaseTerminating PodPhase = "Terminating"
	PhaseUnknown     PodPhase = "Unknown"
)

// PodRecord is a read-only snapshot of one placeholder pod, produced fresh
// each cycle and never mutated in place.
type PodRecord struct {
	Name      string
	CreatedAt time.Time
	Phase     PodPhase
	Ready     bool
}

// PoolObservation is the per-cycle view of the warm pool. Discarded after
// the cycle that produced it.
type PoolObservation struct {
	ReadyCount   int
	PendingCount int
	TotalCount   int
	Pods         []PodRecord
}

// Error reports that the pool could not be observed this cycle.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("observing pool: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Probe reads the current placeholder pod set from the cluster.
type Probe struct {
	Client kubernetes.Interface
}

func New(client kubernetes.Interface) *Probe {
	return &Probe{Client: client}
}

// Observe lists pods in the namespace whose name starts with podPrefix and
// summarizes them. Zero matching pods is a valid observation of a fully
// drained pool, not an error.
func (p *Probe) Observe(ctx context.Context, namespace, podPrefix string) (*PoolObservation, error) {
	pods, err := p.Client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, &Error{Err: err}
	}

	matched := lo.Filter(pods.Items, func(pod v1.Pod, _ int) bool {
		return strings.HasPrefix(pod.Name, podPrefix)
	})
	records := lo.Map(matched, func(pod v1.Pod, _ int) PodRecord {
		return recordFor(&pod)
	})

	obs := &PoolObservation{
		ReadyCount:   lo.CountBy(records, func(r PodRecord) bool { return r.Ready }),
		PendingCount: lo.CountBy(records, func(r PodRecord) bool { return r.Phase == PhasePending }),
		TotalCount:   len(records),
		Pods:         records,
	}

	slog.Debug("Observed warm pool",
		"namespace", namespace,
		"podPrefix", podPrefix,
		"total", obs.TotalCount,
		"ready", obs.ReadyCount,
		"pending", obs.PendingCount)

	return obs, nil
}

func recordFor(pod *v1.Pod) PodRecord {
	return PodRecord{
		Name:      pod.Name,
		CreatedAt: pod.CreationTimestamp.Time,
		Phase:     classify(pod),
		Ready:     isReady(pod),
	}
}

func classify(pod *v1.Pod) PodPhase {
	if pod.DeletionTimestamp != nil {
		return PhaseTerminating
	}
	switch pod.Status.Phase {
	case v1.PodPending:
		return PhasePending
	case v1.PodRunning:
		return PhaseRunning
	default:
		return PhaseUnknown
	}
}

// isReady requires a Running phase and every container reporting ready. A
// pod with no container statuses yet has not finished starting.
func isReady(pod *v1.Pod) bool {
	if pod.DeletionTimestamp != nil || pod.Status.Phase != v1.PodRunning {
		return false
	}
	if len(pod.Status.ContainerStatuses) == 0 {
		return false
	}
	return lo.EveryBy(pod.Status.ContainerStatuses, func(cs v1.ContainerStatus) bool {
		return cs.Ready
	})
}
