package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canopyproj/canopy/pkg/config"
	"github.com/canopyproj/canopy/pkg/events"
	"github.com/canopyproj/canopy/pkg/log"
	"github.com/canopyproj/canopy/pkg/metrics"
	"github.com/canopyproj/canopy/pkg/types"
)

// broker distributes reconciliation events to the progress renderer
var broker = events.NewBroker()

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Reconcile a deployment toward its declared spec",
	Long: `Deploy runs the stage graph (infra, platform, app, validate) for a
named deployment. Runs are idempotent: stages already validated against
an unchanged spec are skipped, and an interrupted run resumes from the
first incomplete stage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := specFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		cmd.SetContext(ctx)

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := buildReconciler(cmd, spec, store)
		if err != nil {
			return err
		}

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			plan, err := rec.Plan(ctx, spec)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tACTION")
			for _, p := range plan {
				fmt.Fprintf(w, "%s\t%s\n", p.Stage, p.Action)
			}
			return w.Flush()
		}

		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			go serveMetrics(addr)
		}

		broker.Start()
		defer broker.Stop()
		sub := broker.Subscribe()
		done := make(chan struct{})
		go renderProgress(sub, done)

		st, err := rec.Reconcile(ctx, spec)
		broker.Unsubscribe(sub)
		<-done
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nDeployment failed. Inspect with: canopy status --name %s\n", spec.Name)
			return err
		}

		fmt.Printf("\nDeployment %q is %s\n", st.Name, st.Phase)
		if st.Provision != nil && st.Provision.Endpoint != "" {
			fmt.Printf("Endpoint: %s\n", st.Provision.Endpoint)
		}
		return nil
	},
}

func specFromFlags(cmd *cobra.Command) (types.DeploymentSpec, error) {
	name, _ := cmd.Flags().GetString("name")
	providerName, _ := cmd.Flags().GetString("provider")
	environment, _ := cmd.Flags().GetString("environment")
	region, _ := cmd.Flags().GetString("region")
	gpu, _ := cmd.Flags().GetBool("enable-gpu")
	canary, _ := cmd.Flags().GetBool("enable-canary")
	sizingFile, _ := cmd.Flags().GetString("sizing-file")

	return config.BuildSpec(config.Options{
		Name:          name,
		Provider:      providerName,
		Environment:   environment,
		Region:        region,
		GPUEnabled:    gpu,
		CanaryEnabled: canary,
		SizingFile:    sizingFile,
	})
}

// renderProgress prints one line per stage transition until the
// subscriber channel closes
func renderProgress(sub events.Subscriber, done chan<- struct{}) {
	defer close(done)
	for ev := range sub {
		switch ev.Type {
		case events.EventStageStarted:
			fmt.Printf("==> %s: running\n", ev.Stage)
		case events.EventStageApplied:
			fmt.Printf("    %s: applied, validating\n", ev.Stage)
		case events.EventStageValidated:
			fmt.Printf("    %s: validated\n", ev.Stage)
		case events.EventStageSkipped:
			fmt.Printf("==> %s: up to date, skipping\n", ev.Stage)
		case events.EventStageFailed:
			fmt.Printf("    %s: FAILED: %s\n", ev.Stage, ev.Message)
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger := log.WithComponent("metrics")
		logger.Error().Err(err).Msg("metrics listener stopped")
	}
}

func init() {
	deployCmd.Flags().String("name", "", "Deployment name")
	deployCmd.Flags().String("provider", "", "Cloud provider (aws, azure, gcp, local)")
	deployCmd.Flags().String("environment", "development", "Environment tag (development, staging, production)")
	deployCmd.Flags().String("region", "", "Cloud region or location")
	deployCmd.Flags().Bool("enable-gpu", false, "Provision GPU nodes and the GPU operator")
	deployCmd.Flags().Bool("enable-canary", false, "Install the canary release controller")
	deployCmd.Flags().String("sizing-file", "", "Cluster sizing configuration file")
	deployCmd.Flags().Bool("dry-run", false, "Print the stage plan without changing anything")
	deployCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
}
