package nodegroup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/cenkalti/backoff/v4"
	"k8s.io/client-go/kubernetes"
)

// State is the node group's scaling configuration as last reported by the
// provider. It is re-read before every mutation and never cached across
// reconcile cycles.
type State struct {
	DesiredSize int
	MinSize     int
	MaxSize     int
}

// EKSAPI is the subset of the EKS client the gateway calls.
type EKSAPI interface {
	DescribeNodegroup(ctx context.Context, params *eks.DescribeNodegroupInput, optFns ...func(*eks.Options)) (*eks.DescribeNodegroupOutput, error)
	UpdateNodegroupConfig(ctx context.Context, params *eks.UpdateNodegroupConfigInput, optFns ...func(*eks.Options)) (*eks.UpdateNodegroupConfigOutput, error)
}

// Gateway reads and mutates the managed node group's capacity. It holds the
// identity of exactly one node group; all mutations in the system go
// through it and are logged with before/after capacity.
type Gateway struct {
	EKS           EKSAPI
	EC2           EC2API
	Kube          kubernetes.Interface
	ClusterName   string
	NodeGroupName string
	DryRun        bool

	lastRead *State
}

// CurrentCapacity reads the node group's desired/min/max sizes. Transient
// provider failures are retried with exponential backoff before giving up
// with a GatewayError.
func (g *Gateway) CurrentCapacity(ctx context.Context) (State, error) {
	var out *eks.DescribeNodegroupOutput
	op := func() error {
		var err error
		out, err = g.EKS.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
			ClusterName:   aws.String(g.ClusterName),
			NodegroupName: aws.String(g.NodeGroupName),
		})
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)); err != nil {
		return State{}, &GatewayError{Op: "describe", Err: err}
	}

	sc := out.Nodegroup.ScalingConfig
	if sc == nil || sc.DesiredSize == nil || sc.MinSize == nil || sc.MaxSize == nil {
		return State{}, &GatewayError{Op: "describe", Err: fmt.Errorf("nodegroup %s/%s has no scaling config", g.ClusterName, g.NodeGroupName)}
	}

	state := State{
		DesiredSize: int(*sc.DesiredSize),
		MinSize:     int(*sc.MinSize),
		MaxSize:     int(*sc.MaxSize),
	}
	g.lastRead = &state

	slog.Debug("Read node group capacity",
		"cluster", g.ClusterName,
		"nodeGroup", g.NodeGroupName,
		"desired", state.DesiredSize,
		"min", state.MinSize,
		"max", state.MaxSize)

	return state, nil
}

// SetDesiredCapacity updates only the node group's desired size. A request
// outside the [min, max] range of the last-read state is rejected without
// calling the provider.
func (g *Gateway) SetDesiredCapacity(ctx context.Context, newDesired int) error {
	if g.lastRead != nil && (newDesired < g.lastRead.MinSize || newDesired > g.lastRead.MaxSize) {
		return &CapacityBoundsError{Requested: newDesired, Min: g.lastRead.MinSize, Max: g.lastRead.MaxSize}
	}

	before := -1
	if g.lastRead != nil {
		before = g.lastRead.DesiredSize
	}

	if g.DryRun {
		slog.Info("Dry-run: would update node group desired capacity",
			"cluster", g.ClusterName,
			"nodeGroup", g.NodeGroupName,
			"before", before,
			"after", newDesired)
		return nil
	}

	_, err := g.EKS.UpdateNodegroupConfig(ctx, &eks.UpdateNodegroupConfigInput{
		ClusterName:   aws.String(g.ClusterName),
		NodegroupName: aws.String(g.NodeGroupName),
		ScalingConfig: &ekstypes.NodegroupScalingConfig{
			DesiredSize: aws.Int32(int32(newDesired)),
		},
	})
	if err != nil {
		return &GatewayError{Op: "update", Err: err}
	}

	slog.Info("Updated node group desired capacity",
		"cluster", g.ClusterName,
		"nodeGroup", g.NodeGroupName,
		"before", before,
		"after", newDesired)

	if g.lastRead != nil {
		g.lastRead.DesiredSize = newDesired
	}
	return nil
}
