package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openberth/berth/pkg/config"
	"github.com/openberth/berth/pkg/facts"
)

func newFactsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "facts [host_ip] [host_port] [host_type]",
		Short: "Collect and print the host context",
		Long: `Collect the host context that prefixes every deployment report:
hostname, OS identification, hardware inventory, and virtualization
detection. Output is the report payload as JSON.`,
		Example: `  # Collect with config defaults
  berth facts

  # Collect with an explicit reported identity
  berth facts 192.0.2.10 9090 all`,
		Args: cobra.RangeArgs(0, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Host.IP = args[0]
			}
			if len(args) > 1 {
				port, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid host port %q: %w", args[1], err)
				}
				cfg.Host.Port = port
			}
			if len(args) > 2 {
				cfg.Host.Type = args[2]
			}

			logger := cliLogger()
			host, err := facts.NewCollector(logger).Collect(cmd.Context(),
				"", cfg.Host.IP, cfg.Host.Port, cfg.Host.Type)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(host, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
