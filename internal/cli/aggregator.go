package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aurora-fleet/internal/config"
	"aurora-fleet/internal/fleet"
	"aurora-fleet/internal/logging"
)

type aggregatorFlags struct {
	commonFlags
	workers     []string
	workersFile string
	timeout     time.Duration
}

func newAggregatorCmd() *cobra.Command {
	return newAggregatorCmdWith(&aggregatorFlags{})
}

func newAggregatorCmdWith(f *aggregatorFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregator",
		Short: "Serve the fleet-wide VM API",
		Long: `Serves /v{VERSION}/vms, /v{VERSION}/vms/{name} and /v{VERSION}/health.

Every request resolves the worker list again, fans out to all node agents
concurrently and merges their answers in worker order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd)
			if err != nil {
				return err
			}
			logger := logging.Build(cfg.Common)
			return runProcess(cmd.Context(), "aurora-fleet aggregator", cfg.Common, logger, fleet.New(cfg, logger))
		},
	}
	f.register(cmd)
	cmd.Flags().StringSliceVar(&f.workers, "workers", nil, "worker addresses host:port; overrides WORKER_HOSTS and the workers file")
	cmd.Flags().StringVar(&f.workersFile, "workers-file", "", "YAML file listing workers, re-read per request (env AURORA_WORKERS_FILE)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-worker call timeout (env AURORA_WORKER_TIMEOUT)")
	return cmd
}

func (f *aggregatorFlags) config(cmd *cobra.Command) (config.Aggregator, error) {
	cfg, err := config.LoadAggregator()
	if err != nil {
		return config.Aggregator{}, fmt.Errorf("load config: %w", err)
	}
	f.apply(cmd, &cfg.Common)
	if cmd.Flags().Changed("workers") {
		cfg.StaticWorkers = f.workers
	}
	if cmd.Flags().Changed("workers-file") {
		cfg.WorkersFile = f.workersFile
	}
	if cmd.Flags().Changed("timeout") {
		cfg.WorkerTimeout = f.timeout
	}
	if err := cfg.Validate(); err != nil {
		return config.Aggregator{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
