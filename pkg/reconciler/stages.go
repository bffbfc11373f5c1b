package reconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/canopyproj/canopy/pkg/provider"
	"github.com/canopyproj/canopy/pkg/release"
	"github.com/canopyproj/canopy/pkg/stage"
	"github.com/canopyproj/canopy/pkg/types"
)

// Standard stage names, in dependency order
const (
	StageInfra    = "infra"
	StagePlatform = "platform"
	StageApp      = "app"
	StageValidate = "validate"
)

// StandardStages builds the stage graph every deployment runs:
//
//	infra → platform → app → validate
//
// infra provisions through the provider adapter; platform and app apply
// their release sets through the applier; validate probes the deployed
// endpoints.
func StandardStages(adapter provider.Adapter, applier release.Applier) (*stage.Registry, error) {
	reg := stage.NewRegistry()

	defs := []stage.Definition{
		{
			Name:     StageInfra,
			Apply:    infraApply(adapter),
			Rollback: infraRollback(adapter),
		},
		{
			Name:      StagePlatform,
			DependsOn: []string{StageInfra},
			Apply:     releaseApply(applier, StagePlatform),
			Rollback:  releaseRollback(applier, StagePlatform),
		},
		{
			Name:      StageApp,
			DependsOn: []string{StagePlatform},
			Apply:     releaseApply(applier, StageApp),
			Rollback:  releaseRollback(applier, StageApp),
		},
		{
			Name:      StageValidate,
			DependsOn: []string{StageApp},
			Targets:   endpointTargets,
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func infraApply(adapter provider.Adapter) stage.ApplyFunc {
	return func(ctx context.Context, spec types.DeploymentSpec, st *types.DeploymentState) error {
		result, err := provider.ProvisionWithRetry(ctx, adapter, spec, provider.DefaultProvisionRetries)
		if err != nil {
			return err
		}
		st.Provision = result
		return nil
	}
}

func infraRollback(adapter provider.Adapter) stage.ApplyFunc {
	return func(ctx context.Context, spec types.DeploymentSpec, st *types.DeploymentState) error {
		id := spec.Name
		if st.Provision != nil {
			id = st.Provision.ID
		}
		if err := adapter.Teardown(ctx, id); err != nil {
			return err
		}
		st.Provision = nil
		return nil
	}
}

func releaseApply(applier release.Applier, stageName string) stage.ApplyFunc {
	return func(ctx context.Context, spec types.DeploymentSpec, st *types.DeploymentState) error {
		if st.Provision == nil {
			return fmt.Errorf("stage %s requires provisioned infrastructure", stageName)
		}
		for _, def := range release.SetFor(spec, stageName) {
			applied, err := applier.Apply(ctx, st.Provision.Endpoint, def)
			if err != nil {
				return fmt.Errorf("apply release %s: %w", def.Name, err)
			}
			applied.Stage = stageName
			upsertRelease(st, applied)
		}
		return nil
	}
}

// releaseRollback uninstalls the releases the state records for a stage,
// in reverse apply order. Driving from the record rather than the spec
// means teardown removes exactly what was applied, whatever feature
// flags the original deploy carried.
func releaseRollback(applier release.Applier, stageName string) stage.ApplyFunc {
	return func(ctx context.Context, spec types.DeploymentSpec, st *types.DeploymentState) error {
		endpoint := ""
		if st.Provision != nil {
			endpoint = st.Provision.Endpoint
		}
		var rels []types.Release
		for _, rel := range st.Releases {
			if rel.Stage == stageName {
				rels = append(rels, rel)
			}
		}
		for i := len(rels) - 1; i >= 0; i-- {
			if err := applier.Uninstall(ctx, endpoint, rels[i].Name, rels[i].Namespace); err != nil {
				return fmt.Errorf("uninstall release %s: %w", rels[i].Name, err)
			}
			removeRelease(st, rels[i].Name)
		}
		return nil
	}
}

func upsertRelease(st *types.DeploymentState, rel types.Release) {
	for i, existing := range st.Releases {
		if existing.Name == rel.Name {
			st.Releases[i] = rel
			return
		}
	}
	st.Releases = append(st.Releases, rel)
}

func removeRelease(st *types.DeploymentState, name string) {
	for i, existing := range st.Releases {
		if existing.Name == name {
			st.Releases = append(st.Releases[:i], st.Releases[i+1:]...)
			return
		}
	}
}

// endpointTargets derives the validate stage's health contract from the
// provisioned endpoint. Cloud API endpoints get an HTTPS health probe,
// bare host:port endpoints a TCP probe; the local provider's synthetic
// endpoints have nothing to dial.
func endpointTargets(spec types.DeploymentSpec, st *types.DeploymentState) []types.ValidationTarget {
	if st.Provision == nil || st.Provision.Endpoint == "" {
		return nil
	}
	endpoint := st.Provision.Endpoint
	switch {
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return []types.ValidationTarget{{
			Kind: types.CheckHTTP,
			URL:  strings.TrimSuffix(endpoint, "/") + "/healthz",
		}}
	case strings.Contains(endpoint, "://"):
		return nil
	case strings.Contains(endpoint, ":"):
		return []types.ValidationTarget{{
			Kind:    types.CheckTCP,
			Address: endpoint,
		}}
	default:
		return nil
	}
}
