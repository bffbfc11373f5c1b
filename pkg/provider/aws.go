package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/log"
	"github.com/canopyproj/canopy/pkg/types"
)

const awsNodegroupName = "default"

// AWSAdapter provisions EKS clusters
type AWSAdapter struct {
	client *eks.Client
	opts   Options
}

// NewAWSAdapter loads the ambient AWS credential chain and builds an
// EKS-backed adapter
func NewAWSAdapter(ctx context.Context, opts Options) (*AWSAdapter, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.AWSRegion))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errdefs.Authentication(fmt.Errorf("load AWS config: %w", err))
	}
	return &AWSAdapter{client: eks.NewFromConfig(cfg), opts: opts}, nil
}

// Name returns the provider this adapter targets
func (a *AWSAdapter) Name() types.Provider {
	return types.ProviderAWS
}

// Provision creates the EKS cluster and its default nodegroup if absent,
// then waits until both are active. Re-running against existing
// infrastructure makes no changes.
func (a *AWSAdapter) Provision(ctx context.Context, spec types.DeploymentSpec) (*types.ProvisionResult, error) {
	logger := log.WithProvider("aws")

	cluster, err := a.getCluster(ctx, spec.Name)
	if err != nil {
		return nil, err
	}

	if cluster == nil {
		logger.Info().Str("cluster", spec.Name).Msg("creating EKS cluster")
		input := &eks.CreateClusterInput{
			Name:    aws.String(spec.Name),
			RoleArn: aws.String(a.opts.AWSRoleArn),
			ResourcesVpcConfig: &ekstypes.VpcConfigRequest{
				SubnetIds: a.opts.AWSSubnetIDs,
			},
			Tags: map[string]string{
				"environment": string(spec.Environment),
				"managed-by":  "canopy",
			},
		}
		if spec.Sizing.KubernetesVersion != "" {
			input.Version = aws.String(spec.Sizing.KubernetesVersion)
		}
		if _, err := a.client.CreateCluster(ctx, input); err != nil {
			return nil, classifyAWS(fmt.Errorf("create cluster %s: %w", spec.Name, err))
		}
	}

	cluster, err = a.waitClusterActive(ctx, spec.Name)
	if err != nil {
		return nil, err
	}

	if err := a.ensureNodegroup(ctx, spec); err != nil {
		return nil, err
	}

	result := &types.ProvisionResult{
		ID:       spec.Name,
		Endpoint: aws.ToString(cluster.Endpoint),
		Labels: map[string]string{
			"arn":         aws.ToString(cluster.Arn),
			"environment": string(spec.Environment),
		},
	}
	return result, nil
}

func (a *AWSAdapter) getCluster(ctx context.Context, name string) (*ekstypes.Cluster, error) {
	out, err := a.client.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
	if err != nil {
		var notFound *ekstypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, classifyAWS(fmt.Errorf("describe cluster %s: %w", name, err))
	}
	return out.Cluster, nil
}

func (a *AWSAdapter) waitClusterActive(ctx context.Context, name string) (*ekstypes.Cluster, error) {
	var cluster *ekstypes.Cluster
	op := func() error {
		c, err := a.getCluster(ctx, name)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c == nil {
			return backoff.Permanent(fmt.Errorf("cluster %s disappeared while waiting", name))
		}
		switch c.Status {
		case ekstypes.ClusterStatusActive:
			cluster = c
			return nil
		case ekstypes.ClusterStatusFailed:
			return backoff.Permanent(fmt.Errorf("cluster %s entered FAILED status", name))
		default:
			return fmt.Errorf("cluster %s is %s", name, c.Status)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 15 * time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 30 * time.Minute

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return cluster, nil
}

func (a *AWSAdapter) ensureNodegroup(ctx context.Context, spec types.DeploymentSpec) error {
	_, err := a.client.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
		ClusterName:   aws.String(spec.Name),
		NodegroupName: aws.String(awsNodegroupName),
	})
	if err == nil {
		return nil
	}
	var notFound *ekstypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return classifyAWS(fmt.Errorf("describe nodegroup: %w", err))
	}

	amiType := ekstypes.AMITypesAl2X8664
	if spec.GPUEnabled {
		amiType = ekstypes.AMITypesAl2X8664Gpu
	}

	count := int32(spec.Sizing.NodeCount)
	input := &eks.CreateNodegroupInput{
		ClusterName:   aws.String(spec.Name),
		NodegroupName: aws.String(awsNodegroupName),
		NodeRole:      aws.String(a.opts.AWSNodeRoleArn),
		Subnets:       a.opts.AWSSubnetIDs,
		AmiType:       amiType,
		DiskSize:      aws.Int32(int32(spec.Sizing.DiskGB)),
		ScalingConfig: &ekstypes.NodegroupScalingConfig{
			DesiredSize: aws.Int32(count),
			MinSize:     aws.Int32(count),
			MaxSize:     aws.Int32(count),
		},
	}
	if spec.Sizing.MachineType != "" {
		input.InstanceTypes = []string{spec.Sizing.MachineType}
	}

	if _, err := a.client.CreateNodegroup(ctx, input); err != nil {
		return classifyAWS(fmt.Errorf("create nodegroup: %w", err))
	}
	return nil
}

// Teardown deletes the nodegroup and the cluster. On partial failure
// the error names what remains.
func (a *AWSAdapter) Teardown(ctx context.Context, id string) error {
	var remaining []string

	_, err := a.client.DeleteNodegroup(ctx, &eks.DeleteNodegroupInput{
		ClusterName:   aws.String(id),
		NodegroupName: aws.String(awsNodegroupName),
	})
	if err != nil {
		var notFound *ekstypes.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			remaining = append(remaining, fmt.Sprintf("nodegroup %s/%s: %v", id, awsNodegroupName, err))
		}
	} else if err := a.waitNodegroupGone(ctx, id); err != nil {
		remaining = append(remaining, fmt.Sprintf("nodegroup %s/%s: %v", id, awsNodegroupName, err))
	}

	if len(remaining) == 0 {
		_, err = a.client.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: aws.String(id)})
		if err != nil {
			var notFound *ekstypes.ResourceNotFoundException
			if !errors.As(err, &notFound) {
				remaining = append(remaining, fmt.Sprintf("cluster %s: %v", id, err))
			}
		}
	} else {
		remaining = append(remaining, fmt.Sprintf("cluster %s: not attempted", id))
	}

	if len(remaining) > 0 {
		return fmt.Errorf("teardown of %s incomplete, remaining resources: %s", id, strings.Join(remaining, "; "))
	}
	return nil
}

func (a *AWSAdapter) waitNodegroupGone(ctx context.Context, cluster string) error {
	op := func() error {
		_, err := a.client.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
			ClusterName:   aws.String(cluster),
			NodegroupName: aws.String(awsNodegroupName),
		})
		if err != nil {
			var notFound *ekstypes.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return nil
			}
			return backoff.Permanent(classifyAWS(err))
		}
		return fmt.Errorf("nodegroup still deleting")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 15 * time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 20 * time.Minute

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Describe fetches current cluster state for drift detection
func (a *AWSAdapter) Describe(ctx context.Context, id string) (*types.ProvisionResult, error) {
	cluster, err := a.getCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	if cluster == nil {
		return nil, ErrNotFound
	}
	return &types.ProvisionResult{
		ID:       id,
		Endpoint: aws.ToString(cluster.Endpoint),
		Labels: map[string]string{
			"arn":    aws.ToString(cluster.Arn),
			"status": string(cluster.Status),
		},
	}, nil
}

// classifyAWS maps EKS API failures onto the error taxonomy
func classifyAWS(err error) error {
	var limit *ekstypes.ResourceLimitExceededException
	if errors.As(err, &limit) {
		return errdefs.QuotaExceeded(err)
	}
	var server *ekstypes.ServerException
	if errors.As(err, &server) {
		return errdefs.TransientNetwork(err)
	}
	return err
}
