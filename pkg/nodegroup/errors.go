package nodegroup

import "fmt"

// GatewayError wraps a provider-side failure (throttling, auth, not-found).
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("node group %s: %v", e.Op, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }

// CapacityBoundsError reports a desired size outside the node group's
// [min, max] range. It is raised before any provider call is made.
type CapacityBoundsError struct {
	Requested int
	Min       int
	Max       int
}

func (e *CapacityBoundsError) Error() string {
	return fmt.Sprintf("desired capacity %d outside allowed range [%d, %d]", e.Requested, e.Min, e.Max)
}

// PodOpError wraps a single pod create or delete failure.
type PodOpError struct {
	Op  string
	Pod string
	Err error
}

func (e *PodOpError) Error() string { return fmt.Sprintf("pod %s %q: %v", e.Op, e.Pod, e.Err) }
func (e *PodOpError) Unwrap() error { return e.Err }
