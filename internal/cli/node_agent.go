package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"aurora-fleet/internal/agent"
	"aurora-fleet/internal/config"
	"aurora-fleet/internal/logging"
)

type nodeAgentFlags struct {
	commonFlags
	libvirtURI string
	hostname   string
}

func newNodeAgentCmd() *cobra.Command {
	return newNodeAgentCmdWith(&nodeAgentFlags{})
}

func newNodeAgentCmdWith(f *nodeAgentFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node-agent",
		Short: "Serve the VMs of the local hypervisor",
		Long: `Serves /vms, /vms/{name} and /health for the domains of the local libvirt
daemon. The aggregator fans out to one node agent per KVM host.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd)
			if err != nil {
				return err
			}
			logger := logging.Build(cfg.Common)
			return runProcess(cmd.Context(), "aurora-fleet node agent", cfg.Common, logger, agent.New(cfg, logger))
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.libvirtURI, "libvirt-uri", "", "libvirt connection URI (env AURORA_LIBVIRT_URI)")
	cmd.Flags().StringVar(&f.hostname, "hostname", "", "host name reported in VM records (env HOSTNAME)")
	return cmd
}

func (f *nodeAgentFlags) config(cmd *cobra.Command) (config.NodeAgent, error) {
	cfg, err := config.LoadNodeAgent()
	if err != nil {
		return config.NodeAgent{}, fmt.Errorf("load config: %w", err)
	}
	f.apply(cmd, &cfg.Common)
	if cmd.Flags().Changed("libvirt-uri") {
		cfg.LibvirtURI = f.libvirtURI
	}
	if cmd.Flags().Changed("hostname") {
		cfg.Hostname = f.hostname
	}
	if err := cfg.Validate(); err != nil {
		return config.NodeAgent{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
