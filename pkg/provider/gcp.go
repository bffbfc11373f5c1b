package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	container "google.golang.org/api/container/v1"
	"google.golang.org/api/googleapi"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/log"
	"github.com/canopyproj/canopy/pkg/types"
)

// GCPAdapter provisions GKE clusters
type GCPAdapter struct {
	svc  *container.Service
	opts Options
}

// NewGCPAdapter builds a GKE-backed adapter using gcloud application
// default credentials
func NewGCPAdapter(ctx context.Context, opts Options) (*GCPAdapter, error) {
	svc, err := container.NewService(ctx)
	if err != nil {
		return nil, errdefs.Authentication(fmt.Errorf("create GKE service client: %w", err))
	}
	return &GCPAdapter{svc: svc, opts: opts}, nil
}

// Name returns the provider this adapter targets
func (g *GCPAdapter) Name() types.Provider {
	return types.ProviderGCP
}

func (g *GCPAdapter) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", g.opts.GCPProject, g.opts.GCPLocation)
}

func (g *GCPAdapter) clusterName(id string) string {
	return fmt.Sprintf("%s/clusters/%s", g.parent(), id)
}

// Provision creates the GKE cluster if absent and waits for RUNNING.
// Re-running against an existing cluster makes no changes.
func (g *GCPAdapter) Provision(ctx context.Context, spec types.DeploymentSpec) (*types.ProvisionResult, error) {
	logger := log.WithProvider("gcp")

	cluster, err := g.getCluster(ctx, spec.Name)
	if err != nil {
		return nil, err
	}

	if cluster == nil {
		logger.Info().Str("cluster", spec.Name).Msg("creating GKE cluster")

		nodeConfig := &container.NodeConfig{
			MachineType: spec.Sizing.MachineType,
			DiskSizeGb:  int64(spec.Sizing.DiskGB),
			Labels: map[string]string{
				"environment": string(spec.Environment),
				"managed-by":  "canopy",
			},
		}
		if spec.GPUEnabled {
			nodeConfig.Accelerators = []*container.AcceleratorConfig{
				{AcceleratorCount: 1, AcceleratorType: "nvidia-tesla-t4"},
			}
		}

		req := &container.CreateClusterRequest{
			Cluster: &container.Cluster{
				Name:             spec.Name,
				InitialNodeCount: int64(spec.Sizing.NodeCount),
				NodeConfig:       nodeConfig,
			},
		}
		if spec.Sizing.KubernetesVersion != "" {
			req.Cluster.InitialClusterVersion = spec.Sizing.KubernetesVersion
		}

		if _, err := g.svc.Projects.Locations.Clusters.Create(g.parent(), req).Context(ctx).Do(); err != nil {
			return nil, classifyGCP(fmt.Errorf("create cluster %s: %w", spec.Name, err))
		}
	}

	cluster, err = g.waitClusterRunning(ctx, spec.Name)
	if err != nil {
		return nil, err
	}

	return &types.ProvisionResult{
		ID:       spec.Name,
		Endpoint: cluster.Endpoint,
		Labels: map[string]string{
			"self-link":   cluster.SelfLink,
			"environment": string(spec.Environment),
		},
	}, nil
}

func (g *GCPAdapter) getCluster(ctx context.Context, id string) (*container.Cluster, error) {
	cluster, err := g.svc.Projects.Locations.Clusters.Get(g.clusterName(id)).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, classifyGCP(fmt.Errorf("get cluster %s: %w", id, err))
	}
	return cluster, nil
}

func (g *GCPAdapter) waitClusterRunning(ctx context.Context, id string) (*container.Cluster, error) {
	var cluster *container.Cluster
	op := func() error {
		c, err := g.getCluster(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c == nil {
			return backoff.Permanent(fmt.Errorf("cluster %s disappeared while waiting", id))
		}
		switch c.Status {
		case "RUNNING":
			cluster = c
			return nil
		case "ERROR", "DEGRADED":
			return backoff.Permanent(fmt.Errorf("cluster %s entered %s status: %s", id, c.Status, c.StatusMessage))
		default:
			return fmt.Errorf("cluster %s is %s", id, c.Status)
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

// Teardown deletes the cluster and waits until it is gone
func (g *GCPAdapter) Teardown(ctx context.Context, id string) error {
	_, err := g.svc.Projects.Locations.Clusters.Delete(g.clusterName(id)).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("teardown of %s incomplete, remaining resources: cluster %s: %w", id, id, err)
	}

	op := func() error {
		c, err := g.getCluster(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c != nil {
			return fmt.Errorf("cluster still deleting")
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 15 * time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 20 * time.Minute

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("teardown of %s incomplete, remaining resources: cluster %s: %w", id, id, err)
	}
	return nil
}

// Describe fetches current cluster state for drift detection
func (g *GCPAdapter) Describe(ctx context.Context, id string) (*types.ProvisionResult, error) {
	cluster, err := g.getCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	if cluster == nil {
		return nil, ErrNotFound
	}
	return &types.ProvisionResult{
		ID:       id,
		Endpoint: cluster.Endpoint,
		Labels: map[string]string{
			"self-link": cluster.SelfLink,
			"status":    cluster.Status,
		},
	}, nil
}

// classifyGCP maps GKE API failures onto the error taxonomy
func classifyGCP(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errdefs.Authentication(err)
	case http.StatusTooManyRequests:
		return errdefs.QuotaExceeded(err)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return errdefs.TransientNetwork(err)
	}
	return err
}
