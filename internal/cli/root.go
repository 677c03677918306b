// Package cli is the aurora-fleet command line: one binary that runs either
// the aggregator or the node agent.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"aurora-fleet/internal/config"
	"aurora-fleet/internal/lifecycle"
)

// NewRootCmd builds the command tree. version is the build version, not the
// API version.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "aurora-fleet",
		Short: "Fleet-wide view and control of libvirt VMs",
		Long: `aurora-fleet aggregates the VM inventories of many KVM hosts.

Run "aurora-fleet node-agent" on every hypervisor and "aurora-fleet aggregator"
once, pointed at the node agents through WORKER_HOSTS, --workers or a workers file.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "aurora-fleet version %s\n" .Version}}`)

	root.AddCommand(
		newAggregatorCmd(),
		newNodeAgentCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute(version string) {
	if err := NewRootCmd(version).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of aurora-fleet",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aurora-fleet version %s\n", cmd.Root().Version)
		},
	}
}

// commonFlags are shared by both server commands and override the
// environment when set.
type commonFlags struct {
	listen         string
	grpcHealthAddr string
	logLevel       string
	logJSON        bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.listen, "listen", "", "HTTP listen address (env AURORA_LISTEN_ADDR)")
	cmd.Flags().StringVar(&f.grpcHealthAddr, "grpc-health-addr", "", "gRPC health listen address, empty to disable (env AURORA_GRPC_HEALTH_ADDR)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (env AURORA_LOG_LEVEL)")
	cmd.Flags().BoolVar(&f.logJSON, "log-json", false, "log as JSON (env AURORA_LOG_JSON)")
}

func (f *commonFlags) apply(cmd *cobra.Command, c *config.Common) {
	if cmd.Flags().Changed("listen") {
		c.ListenAddr = f.listen
	}
	if cmd.Flags().Changed("grpc-health-addr") {
		c.GRPCHealthAddr = f.grpcHealthAddr
	}
	if cmd.Flags().Changed("log-level") {
		c.LogLevel = f.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		c.LogJSON = f.logJSON
	}
}

func runProcess(ctx context.Context, name string, c config.Common, logger *slog.Logger, p lifecycle.Process) error {
	runner := lifecycle.Runner{
		Name:            name,
		Logger:          logger,
		ShutdownTimeout: c.ShutdownTimeout,
	}
	if err := runner.Run(ctx, p); err != nil {
		logger.Error(name+" runtime failed", "error", err)
		return err
	}
	return nil
}
