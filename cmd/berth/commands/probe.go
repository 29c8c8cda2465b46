package commands

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openberth/berth/pkg/probe"
	"github.com/openberth/berth/pkg/runner"
)

// cliLogger is the engineering log for standalone subcommands; quiet enough
// to keep table output readable.
func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().
		Level(zerolog.WarnLevel)
}

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the host's backing runtimes",
		Long: `Detect which backing runtimes this host offers: container engine,
service manager, helm, and kubernetes API reachability.

The same detection runs at the start of every deployment; this command
exposes it standalone for troubleshooting a host.`,
		Example: `  berth probe`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cliLogger()
			caps := probe.NewProber(runner.NewExecRunner(logger), logger).Detect(cmd.Context())

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"RUNTIME", "AVAILABLE", "DETAIL"})
			t.AppendRow(table.Row{"container engine", yesNo(caps.Docker), caps.DockerVersion})
			t.AppendRow(table.Row{"service manager", yesNo(caps.ServiceManager() != probe.ManagerNone), string(caps.ServiceManager())})
			t.AppendRow(table.Row{"helm", yesNo(caps.Helm), caps.HelmVersion})
			t.AppendRow(table.Row{"kubernetes API", yesNo(caps.Kubernetes), caps.KubernetesVersion})
			t.Render()

			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
