package nodegroup

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2API is the subset of the EC2 client used for instance counting.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// InstanceCount counts the node group's EC2 instances directly, by the tags
// EKS stamps on managed node group instances. This sees capacity that is
// booting but not yet reflected in the node group's desired size.
func (g *Gateway) InstanceCount(ctx context.Context) (running, pending int, err error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:eks:cluster-name"), Values: []string{g.ClusterName}},
			{Name: aws.String("tag:eks:nodegroup-name"), Values: []string{g.NodeGroupName}},
			{Name: aws.String("instance-state-name"), Values: []string{"running", "pending"}},
		},
	}

	for {
		out, err := g.EC2.DescribeInstances(ctx, input)
		if err != nil {
			return 0, 0, &GatewayError{Op: "describe-instances", Err: err}
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.State == nil {
					continue
				}
				switch inst.State.Name {
				case ec2types.InstanceStateNameRunning:
					running++
				case ec2types.InstanceStateNamePending:
					pending++
				}
			}
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}

	slog.Debug("Counted node group instances",
		"cluster", g.ClusterName,
		"nodeGroup", g.NodeGroupName,
		"running", running,
		"pending", pending)

	return running, pending, nil
}
