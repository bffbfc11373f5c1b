package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerservice/armcontainerservice/v6"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/log"
	"github.com/canopyproj/canopy/pkg/types"
)

// AzureAdapter provisions AKS clusters
type AzureAdapter struct {
	clusters *armcontainerservice.ManagedClustersClient
	opts     Options
}

// NewAzureAdapter authenticates through the default Azure credential
// chain (CLI session, environment, managed identity) and builds an
// AKS-backed adapter
func NewAzureAdapter(opts Options) (*AzureAdapter, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, errdefs.Authentication(fmt.Errorf("acquire Azure credential: %w", err))
	}
	client, err := armcontainerservice.NewManagedClustersClient(opts.AzureSubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create AKS client: %w", err)
	}
	return &AzureAdapter{clusters: client, opts: opts}, nil
}

// Name returns the provider this adapter targets
func (az *AzureAdapter) Name() types.Provider {
	return types.ProviderAzure
}

// Provision creates or converges the AKS cluster and blocks until the
// operation completes. Re-running with an unchanged spec converges to
// the same cluster without side effects.
func (az *AzureAdapter) Provision(ctx context.Context, spec types.DeploymentSpec) (*types.ProvisionResult, error) {
	logger := log.WithProvider("azure")

	existing, err := az.getCluster(ctx, spec.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Properties != nil &&
		existing.Properties.ProvisioningState != nil &&
		*existing.Properties.ProvisioningState == "Succeeded" {
		return az.toResult(spec.Name, existing), nil
	}

	logger.Info().Str("cluster", spec.Name).Msg("creating AKS cluster")

	vmSize := spec.Sizing.MachineType
	if vmSize == "" {
		vmSize = "Standard_D2s_v3"
	}

	cluster := armcontainerservice.ManagedCluster{
		Location: to.Ptr(az.opts.AzureLocation),
		Identity: &armcontainerservice.ManagedClusterIdentity{
			Type: to.Ptr(armcontainerservice.ResourceIdentityTypeSystemAssigned),
		},
		Tags: map[string]*string{
			"environment": to.Ptr(string(spec.Environment)),
			"managed-by":  to.Ptr("canopy"),
		},
		Properties: &armcontainerservice.ManagedClusterProperties{
			DNSPrefix: to.Ptr(spec.Name),
			AgentPoolProfiles: []*armcontainerservice.ManagedClusterAgentPoolProfile{
				{
					Name:   to.Ptr("system"),
					Count:  to.Ptr(int32(spec.Sizing.NodeCount)),
					VMSize: to.Ptr(vmSize),
					Mode:   to.Ptr(armcontainerservice.AgentPoolModeSystem),
				},
			},
		},
	}
	if spec.Sizing.KubernetesVersion != "" {
		cluster.Properties.KubernetesVersion = to.Ptr(spec.Sizing.KubernetesVersion)
	}

	poller, err := az.clusters.BeginCreateOrUpdate(ctx, az.opts.AzureResourceGroup, spec.Name, cluster, nil)
	if err != nil {
		return nil, classifyAzure(fmt.Errorf("create cluster %s: %w", spec.Name, err))
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, classifyAzure(fmt.Errorf("wait for cluster %s: %w", spec.Name, err))
	}

	return az.toResult(spec.Name, &resp.ManagedCluster), nil
}

func (az *AzureAdapter) getCluster(ctx context.Context, name string) (*armcontainerservice.ManagedCluster, error) {
	resp, err := az.clusters.Get(ctx, az.opts.AzureResourceGroup, name, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, classifyAzure(fmt.Errorf("get cluster %s: %w", name, err))
	}
	return &resp.ManagedCluster, nil
}

func (az *AzureAdapter) toResult(name string, cluster *armcontainerservice.ManagedCluster) *types.ProvisionResult {
	result := &types.ProvisionResult{ID: name, Labels: map[string]string{}}
	if cluster.ID != nil {
		result.Labels["resource-id"] = *cluster.ID
	}
	if cluster.Properties != nil {
		if cluster.Properties.Fqdn != nil {
			result.Endpoint = *cluster.Properties.Fqdn
		}
		if cluster.Properties.ProvisioningState != nil {
			result.Labels["status"] = *cluster.Properties.ProvisioningState
		}
	}
	return result
}

// Teardown deletes the cluster and blocks until the delete completes
func (az *AzureAdapter) Teardown(ctx context.Context, id string) error {
	poller, err := az.clusters.BeginDelete(ctx, az.opts.AzureResourceGroup, id, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("teardown of %s incomplete, remaining resources: cluster %s: %w", id, id, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("teardown of %s incomplete, remaining resources: cluster %s: %w", id, id, err)
	}
	return nil
}

// Describe fetches current cluster state for drift detection
func (az *AzureAdapter) Describe(ctx context.Context, id string) (*types.ProvisionResult, error) {
	cluster, err := az.getCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	if cluster == nil {
		return nil, ErrNotFound
	}
	return az.toResult(id, cluster), nil
}

// classifyAzure maps ARM failures onto the error taxonomy
func classifyAzure(err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch respErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errdefs.Authentication(err)
	case http.StatusTooManyRequests:
		return errdefs.QuotaExceeded(err)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return errdefs.TransientNetwork(err)
	}
	return err
}
