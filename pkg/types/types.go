package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Provider identifies the cloud backend a deployment targets
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
	ProviderGCP   Provider = "gcp"
	ProviderLocal Provider = "local"
)

// Environment is the deployment environment tag
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ClusterSizing holds the resource sizing parameters loaded from the
// sizing configuration file
type ClusterSizing struct {
	NodeCount         int    `json:"nodeCount" yaml:"nodeCount" validate:"min=1,max=100"`
	MachineType       string `json:"machineType" yaml:"machineType" validate:"required"`
	DiskGB            int    `json:"diskGB" yaml:"diskGB" validate:"min=10"`
	KubernetesVersion string `json:"kubernetesVersion" yaml:"kubernetesVersion"`
}

// DeploymentSpec captures user intent for one named deployment.
// It is immutable once a reconciliation run starts; components receive
// it by value.
type DeploymentSpec struct {
	Name          string        `json:"name" validate:"required,hostname_rfc1123"`
	Provider      Provider      `json:"provider" validate:"required,oneof=aws azure gcp local"`
	Environment   Environment   `json:"environment" validate:"required,oneof=development staging production"`
	Region        string        `json:"region,omitempty"`
	GPUEnabled    bool          `json:"gpuEnabled"`
	CanaryEnabled bool          `json:"canaryEnabled"`
	Sizing        ClusterSizing `json:"sizing"`
}

// Hash returns the canonical content hash of the spec. Two specs with
// the same hash are treated as identical by the reconciler when deciding
// whether a validated stage can be skipped.
func (s DeploymentSpec) Hash() string {
	data, err := json.Marshal(s)
	if err != nil {
		// DeploymentSpec contains only marshalable fields
		panic(fmt.Sprintf("marshal spec: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StageStatus is the status of a single stage within a deployment
type StageStatus string

const (
	StagePending   StageStatus = "PENDING"
	StageApplied   StageStatus = "APPLIED"
	StageValidated StageStatus = "VALIDATED"
	StageFailed    StageStatus = "FAILED"
)

// ValidTransition reports whether a stage may move from one status to
// another. The only legal forward path is PENDING -> APPLIED -> VALIDATED;
// any status may move to FAILED. A rollback resets a stage to PENDING
// through an explicit transition.
func ValidTransition(from, to StageStatus) bool {
	if to == StageFailed {
		return true
	}
	switch from {
	case StagePending:
		return to == StageApplied
	case StageApplied:
		return to == StageValidated
	case StageFailed:
		return to == StagePending || to == StageApplied
	}
	return false
}

// Phase values that terminate a deployment. While a run is in progress
// the phase is the name of the stage being executed.
const (
	PhaseComplete = "COMPLETE"
	PhaseFailed   = "FAILED"
)

// StageRecord tracks the persisted status of one stage
type StageRecord struct {
	Status    StageStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"lastError,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// ProvisionResult describes the infrastructure a provider adapter
// created or found for a deployment
type ProvisionResult struct {
	ID       string            `json:"id"`
	Endpoint string            `json:"endpoint,omitempty"`
	Registry string            `json:"registry,omitempty"`
	Network  string            `json:"network,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Release is one applied application release. Namespace and Stage are
// recorded so teardown can uninstall exactly what was applied without
// recomputing the release set from the spec.
type Release struct {
	Name      string    `json:"name"`
	Chart     string    `json:"chart"`
	Namespace string    `json:"namespace,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Revision  int       `json:"revision"`
	AppliedAt time.Time `json:"appliedAt"`
}

// DeploymentState is the persisted record for one named deployment.
// It is owned by the plan store and mutated only through reconciler
// transactions.
type DeploymentState struct {
	Name      string                 `json:"name"`
	Phase     string                 `json:"phase"`
	SpecHash  string                 `json:"specHash"`
	Provider  Provider               `json:"provider"`
	Stages    map[string]StageRecord `json:"stages"`
	Provision *ProvisionResult       `json:"provision,omitempty"`
	Releases  []Release              `json:"releases,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// NewDeploymentState initializes state for a deployment that has never
// been reconciled. All registered stages start PENDING.
func NewDeploymentState(spec DeploymentSpec, stageNames []string) *DeploymentState {
	now := time.Now().UTC()
	stages := make(map[string]StageRecord, len(stageNames))
	for _, name := range stageNames {
		stages[name] = StageRecord{Status: StagePending, UpdatedAt: now}
	}
	return &DeploymentState{
		Name:      spec.Name,
		Phase:     "",
		SpecHash:  spec.Hash(),
		Provider:  spec.Provider,
		Stages:    stages,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StageStatusOf returns the recorded status for a stage, defaulting to
// PENDING for stages the record has never seen.
func (d *DeploymentState) StageStatusOf(name string) StageStatus {
	if rec, ok := d.Stages[name]; ok {
		return rec.Status
	}
	return StagePending
}

// SetStage records a stage transition. It returns an error when the
// transition would violate the stage lifecycle.
func (d *DeploymentState) SetStage(name string, status StageStatus, lastErr string) error {
	rec := d.Stages[name]
	if rec.Status == status && status != StageFailed {
		return nil
	}
	if rec.Status != "" && !ValidTransition(rec.Status, status) {
		return fmt.Errorf("stage %s: illegal transition %s -> %s", name, rec.Status, status)
	}
	rec.Status = status
	rec.LastError = lastErr
	rec.UpdatedAt = time.Now().UTC()
	if status == StageApplied {
		rec.Attempts++
	}
	if d.Stages == nil {
		d.Stages = make(map[string]StageRecord)
	}
	d.Stages[name] = rec
	d.UpdatedAt = rec.UpdatedAt
	return nil
}

// ResetStage is the dedicated rollback transition: it regresses a stage
// to PENDING regardless of its current status. Only explicit teardown
// goes through here; ordinary reconciliation never regresses a stage.
func (d *DeploymentState) ResetStage(name string) {
	rec := d.Stages[name]
	rec.Status = StagePending
	rec.LastError = ""
	rec.UpdatedAt = time.Now().UTC()
	if d.Stages == nil {
		d.Stages = make(map[string]StageRecord)
	}
	d.Stages[name] = rec
	d.UpdatedAt = rec.UpdatedAt
}

// Clone returns a deep copy. The reconciler hands snapshots to other
// components; they never see the live record.
func (d *DeploymentState) Clone() *DeploymentState {
	out := *d
	out.Stages = make(map[string]StageRecord, len(d.Stages))
	for k, v := range d.Stages {
		out.Stages[k] = v
	}
	if d.Provision != nil {
		p := *d.Provision
		if d.Provision.Labels != nil {
			p.Labels = make(map[string]string, len(d.Provision.Labels))
			for k, v := range d.Provision.Labels {
				p.Labels[k] = v
			}
		}
		out.Provision = &p
	}
	out.Releases = append([]Release(nil), d.Releases...)
	return &out
}

// CheckIntegrity verifies that a record read back from storage is
// internally consistent. Corrupt records are surfaced, never repaired.
func (d *DeploymentState) CheckIntegrity() error {
	if d.Name == "" {
		return fmt.Errorf("empty deployment name")
	}
	if d.SpecHash == "" {
		return fmt.Errorf("deployment %s: missing spec hash", d.Name)
	}
	for name, rec := range d.Stages {
		switch rec.Status {
		case StagePending, StageApplied, StageValidated, StageFailed:
		default:
			return fmt.Errorf("deployment %s: stage %s has unknown status %q", d.Name, name, rec.Status)
		}
	}
	if d.Phase == PhaseComplete {
		for name, rec := range d.Stages {
			if rec.Status != StageValidated {
				return fmt.Errorf("deployment %s: phase COMPLETE but stage %s is %s", d.Name, name, rec.Status)
			}
		}
	}
	return nil
}

// CheckKind selects how a validation target is probed
type CheckKind string

const (
	CheckHTTP CheckKind = "http"
	CheckTCP  CheckKind = "tcp"
	CheckExec CheckKind = "exec"
)

// ValidationTarget describes one health contract a validator probes
// after a stage applies
type ValidationTarget struct {
	Kind    CheckKind `json:"kind"`
	URL     string    `json:"url,omitempty"`     // http
	Address string    `json:"address,omitempty"` // tcp, host:port
	Command []string  `json:"command,omitempty"` // exec
}
