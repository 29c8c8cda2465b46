package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openberth/berth/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <host_ip> [host_port] [host_type]",
		Short: "Validate the configuration without deploying",
		Long: `Load and validate the configuration, then dry-run every selected
deployment unit through policy admission. Nothing touches a backing
runtime.

The exit code is non-zero when the configuration is invalid or any
unit would be denied.`,
		Example: `  berth validate 192.0.2.10
  berth validate 192.0.2.10 8080 container --config /etc/berth/berth.yaml`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args)
			if err != nil {
				return err
			}

			logger := cliLogger()
			policies, err := policy.NewEngine(logger)
			if err != nil {
				return err
			}
			if cfg.PolicyDir != "" {
				if err := policies.LoadPolicies(cmd.Context(), []string{cfg.PolicyDir}); err != nil {
					return fmt.Errorf("failed to load operator policies: %w", err)
				}
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"KIND", "IDENTITY", "ADMISSION", "FINDINGS"})

			denied := 0
			for _, req := range cfg.Requests() {
				input := &policy.Input{
					Request: req,
					Context: &policy.Context{
						HostIP:    cfg.Host.IP,
						HostType:  cfg.Host.Type,
						Timestamp: time.Now(),
					},
				}
				result, err := policies.EvaluateRequest(cmd.Context(), input)
				if err != nil {
					return fmt.Errorf("admission evaluation failed for %q: %w", req.Identity, err)
				}

				admission := "allowed"
				findings := ""
				if !result.Allowed {
					denied++
					admission = "denied"
					for i, v := range result.Violations {
						if i > 0 {
							findings += "; "
						}
						findings += fmt.Sprintf("%s: %s", v.Policy, v.Message)
					}
				} else if len(result.Warnings) > 0 {
					for i, w := range result.Warnings {
						if i > 0 {
							findings += "; "
						}
						findings += fmt.Sprintf("warn %s: %s", w.Policy, w.Message)
					}
				}
				t.AppendRow(table.Row{string(req.Kind), req.Identity, admission, findings})
			}
			t.Render()

			if denied > 0 {
				return fmt.Errorf("%d deployment unit(s) would be denied by policy", denied)
			}
			fmt.Println("Configuration valid.")
			return nil
		},
	}
}
