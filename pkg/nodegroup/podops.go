package nodegroup

import (
	"context"
	"log/slog"

	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/scarfall-net/warm-pool-autoscaler/pkg/config"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/probe"
)

// CreatePod creates one placeholder pod occupying pre-warmed capacity. The
// pod runs a pause container sized to the configured per-pod limits and
// tolerates any taint so it can land on freshly provisioned nodes.
func (g *Gateway) CreatePod(ctx context.Context, namespace, podPrefix string, spec *config.PoolSpec) (probe.PodRecord, error) {
	pod := placeholderPod(namespace, podPrefix, spec)

	if g.DryRun {
		slog.Info("Dry-run: would create placeholder pod", "namespace", namespace, "podPrefix", podPrefix)
		return probe.PodRecord{Name: podPrefix, Phase: probe.PhasePending}, nil
	}

	created, err := g.Kube.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return probe.PodRecord{}, &PodOpError{Op: "create", Pod: podPrefix, Err: err}
	}

	slog.Info("Created placeholder pod", "namespace", namespace, "pod", created.Name)
	return probe.PodRecord{
		Name:      created.Name,
		CreatedAt: created.CreationTimestamp.Time,
		Phase:     probe.PhasePending,
	}, nil
}

// DeletePod removes a placeholder pod. Deleting a pod that is already gone
// is not an error; the pool simply converged by other means.
func (g *Gateway) DeletePod(ctx context.Context, namespace, podName string) error {
	if g.DryRun {
		slog.Info("Dry-run: would delete placeholder pod", "namespace", namespace, "pod", podName)
		return nil
	}

	err := g.Kube.CoreV1().Pods(namespace).Delete(ctx, podName, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		slog.Debug("Placeholder pod already absent", "namespace", namespace, "pod", podName)
		return nil
	}
	if err != nil {
		return &PodOpError{Op: "delete", Pod: podName, Err: err}
	}

	slog.Info("Deleted placeholder pod", "namespace", namespace, "pod", podName)
	return nil
}

func placeholderPod(namespace, podPrefix string, spec *config.PoolSpec) *v1.Pod {
	cpu := resource.NewMilliQuantity(int64(spec.PodCPULimit*1000), resource.DecimalSI)
	memory := resource.NewQuantity(int64(spec.PodMemoryLimit)*1024*1024, resource.BinarySI)
	limits := v1.ResourceList{
		v1.ResourceCPU:    *cpu,
		v1.ResourceMemory: *memory,
	}

	return &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: podPrefix + "-",
			Namespace:    namespace,
			Labels: map[string]string{
				"app": podPrefix,
			},
		},
		Spec: v1.PodSpec{
			Containers: []v1.Container{
				{
					Name:  "pause",
					Image: spec.PodImage,
					Resources: v1.ResourceRequirements{
						Requests: limits,
						Limits:   limits,
					},
				},
			},
			Tolerations: []v1.Toleration{
				{Operator: v1.TolerationOpExists},
			},
		},
	}
}
