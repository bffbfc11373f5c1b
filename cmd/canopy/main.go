package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/log"
	"github.com/canopyproj/canopy/pkg/planstore"
	"github.com/canopyproj/canopy/pkg/provider"
	"github.com/canopyproj/canopy/pkg/reconciler"
	"github.com/canopyproj/canopy/pkg/release"
	"github.com/canopyproj/canopy/pkg/stage"
	"github.com/canopyproj/canopy/pkg/types"
	"github.com/canopyproj/canopy/pkg/validate"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errdefs.ErrInvalidSpec) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Canopy - declarative multi-cloud deployment reconciler",
	Long: `Canopy reconciles named deployments toward a declared spec across
AWS, Azure, GCP and a local backend. Each deployment moves through an
ordered stage graph (infra, platform, app, validate); progress is
persisted so an interrupted run resumes where it stopped.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Canopy version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs instead of console output")
	rootCmd.PersistentFlags().String("data-dir", defaultDataDir(), "Directory for local state and the local provider")
	rootCmd.PersistentFlags().String("state-backend", "bolt", "Plan store backend (bolt or s3)")
	rootCmd.PersistentFlags().String("s3-bucket", "", "Bucket for the s3 state backend")
	rootCmd.PersistentFlags().String("s3-prefix", "canopy", "Key prefix for the s3 state backend")
	rootCmd.PersistentFlags().String("s3-region", "", "Region for the s3 state backend")

	// Flag misuse is an invalid-argument failure, not a stage failure
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errdefs.ErrInvalidSpec, err)
	})

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(listCmd)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./canopy-data"
	}
	return home + "/.canopy"
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, so a
// long cloud wait can be interrupted and resumed later
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "interrupted, state has been saved")
		cancel()
	}()
	return ctx, cancel
}

func openStore(cmd *cobra.Command) (planstore.Store, error) {
	backend, _ := cmd.Flags().GetString("state-backend")
	switch backend {
	case "bolt":
		dataDir, _ := cmd.Flags().GetString("data-dir")
		return planstore.NewBoltStore(dataDir)
	case "s3":
		bucket, _ := cmd.Flags().GetString("s3-bucket")
		prefix, _ := cmd.Flags().GetString("s3-prefix")
		region, _ := cmd.Flags().GetString("s3-region")
		if bucket == "" {
			return nil, fmt.Errorf("%w: --s3-bucket is required with the s3 backend", errdefs.ErrInvalidSpec)
		}
		return planstore.NewS3Store(cmd.Context(), bucket, prefix, region)
	default:
		return nil, fmt.Errorf("%w: unknown state backend %q", errdefs.ErrInvalidSpec, backend)
	}
}

func providerOptions(cmd *cobra.Command) provider.Options {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	region, _ := cmd.Flags().GetString("region")
	return provider.Options{
		AWSRegion:           region,
		AWSRoleArn:          os.Getenv("CANOPY_AWS_ROLE_ARN"),
		AWSNodeRoleArn:      os.Getenv("CANOPY_AWS_NODE_ROLE_ARN"),
		AzureSubscriptionID: os.Getenv("AZURE_SUBSCRIPTION_ID"),
		AzureResourceGroup:  os.Getenv("CANOPY_AZURE_RESOURCE_GROUP"),
		AzureLocation:       region,
		GCPProject:          os.Getenv("CANOPY_GCP_PROJECT"),
		GCPLocation:         region,
		LocalRoot:           dataDir + "/local-clusters",
	}
}

// buildReconciler assembles the full pipeline for a spec
func buildReconciler(cmd *cobra.Command, spec types.DeploymentSpec, store planstore.Store) (*reconciler.Reconciler, error) {
	adapter, err := provider.ForSpec(cmd.Context(), spec, providerOptions(cmd))
	if err != nil {
		return nil, err
	}

	var applier release.Applier
	if spec.Provider == types.ProviderLocal {
		applier = release.NewFakeApplier()
	} else {
		applier = release.NewHelmApplier(os.Getenv("KUBECONFIG"))
	}

	registry, err := reconciler.StandardStages(adapter, applier)
	if err != nil {
		return nil, err
	}

	return reconciler.New(reconciler.Config{
		Store:    store,
		Adapter:  adapter,
		Registry: registry,
		Runner:   stage.NewRunner(validate.New()),
		Broker:   broker,
	}), nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted state and drift of a deployment",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("%w: --name is required", errdefs.ErrInvalidSpec)
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		st, found, err := store.Load(name)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("unknown deployment %q", name)
		}

		adapter, err := provider.ForSpec(cmd.Context(), types.DeploymentSpec{Name: name, Provider: st.Provider}, providerOptions(cmd))
		if err != nil {
			return err
		}
		registry, err := reconciler.StandardStages(adapter, release.NewFakeApplier())
		if err != nil {
			return err
		}
		rec := reconciler.New(reconciler.Config{
			Store:    store,
			Adapter:  adapter,
			Registry: registry,
			Runner:   stage.NewRunner(validate.New()),
		})

		report, err := rec.Status(cmd.Context(), name)
		if err != nil {
			return err
		}
		printStatus(report)

		if report.State.Phase != types.PhaseComplete {
			return fmt.Errorf("deployment %q is %s", name, report.State.Phase)
		}
		return nil
	},
}

func printStatus(report *reconciler.StatusReport) {
	st := report.State
	fmt.Printf("Deployment: %s\n", st.Name)
	fmt.Printf("Provider:   %s\n", st.Provider)
	fmt.Printf("Phase:      %s\n", st.Phase)
	if report.Drift != "" {
		fmt.Printf("Drift:      %s\n", report.Drift)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATUS\tATTEMPTS\tLAST ERROR")
	for _, name := range []string{reconciler.StageInfra, reconciler.StagePlatform, reconciler.StageApp, reconciler.StageValidate} {
		rec, ok := st.Stages[name]
		if !ok {
			continue
		}
		lastErr := rec.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, rec.Status, rec.Attempts, lastErr)
	}
	w.Flush()

	if st.Provision != nil && st.Provision.Endpoint != "" {
		fmt.Printf("\nEndpoint: %s\n", st.Provision.Endpoint)
	}
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Tear down a deployment's releases and infrastructure",
	Long: `Teardown rolls stages back in reverse dependency order and removes
the persisted record. Without --force teardown stops at the first
failure; with --force it continues past failures and reports everything
that could not be removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("%w: --name is required", errdefs.ErrInvalidSpec)
		}
		force, _ := cmd.Flags().GetBool("force")

		ctx, cancel := signalContext()
		defer cancel()
		cmd.SetContext(ctx)

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		st, found, err := store.Load(name)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("unknown deployment %q", name)
		}

		spec := types.DeploymentSpec{Name: name, Provider: st.Provider}
		rec, err := buildReconciler(cmd, spec, store)
		if err != nil {
			return err
		}

		if err := rec.Teardown(ctx, spec, force); err != nil {
			return err
		}
		fmt.Printf("Deployment %q torn down\n", name)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		names, err := store.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No deployments")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPROVIDER\tPHASE\tUPDATED")
		for _, name := range names {
			st, found, err := store.Load(name)
			if err != nil || !found {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				st.Name, st.Provider, st.Phase, st.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().String("name", "", "Deployment name")
	teardownCmd.Flags().String("name", "", "Deployment name")
	teardownCmd.Flags().Bool("force", false, "Continue past failures and report what remains")
}
