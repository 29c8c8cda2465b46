package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/runner"
)

// execPathMarker prefixes the marker line the init-script template embeds so
// the backend can recover the executable path for its process-table check.
const execPathMarker = "# exec-path: "

// SysVManager is the legacy init-script backend. It is selected only when the
// unit-based manager is absent.
type SysVManager struct {
	initDir string
	runner  runner.Runner
	logger  zerolog.Logger

	// processCommands lists the command lines of all running processes.
	// Injectable for tests; the default reads the live process table.
	processCommands func(ctx context.Context) ([]string, error)
}

// NewSysVManager creates the legacy backend writing scripts to /etc/init.d.
func NewSysVManager(run runner.Runner, logger zerolog.Logger) *SysVManager {
	return &SysVManager{
		initDir:         "/etc/init.d",
		runner:          run,
		logger:          logger.With().Str("component", "service.sysv").Logger(),
		processCommands: liveProcessCommands,
	}
}

// Name implements Manager.
func (m *SysVManager) Name() string { return "sysvinit" }

func (m *SysVManager) scriptPath(identity string) string {
	return filepath.Join(m.initDir, identity)
}

// Exists implements Manager: the service exists iff its init script does.
func (m *SysVManager) Exists(ctx context.Context, identity string) (bool, error) {
	_, err := os.Stat(m.scriptPath(identity))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat init script: %w", err)
}

// IsActive implements Manager by process-table lookup: the service is active
// iff some process command line matches the executable path recorded in the
// init script.
func (m *SysVManager) IsActive(ctx context.Context, identity string) (bool, error) {
	execPath, err := m.recordedExecPath(identity)
	if err != nil {
		return false, err
	}
	commands, err := m.processCommands(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read process table: %w", err)
	}
	for _, cmdline := range commands {
		if strings.Contains(cmdline, execPath) {
			return true, nil
		}
	}
	return false, nil
}

// Stop implements Manager via the script's own stop action.
func (m *SysVManager) Stop(ctx context.Context, identity string) error {
	result, err := m.runner.Run(ctx, m.scriptPath(identity), "stop")
	if err != nil {
		return fmt.Errorf("failed to run stop action: %w", err)
	}
	if !result.Succeeded() {
		return fmt.Errorf("stop action failed: %s", result.CombinedTail(5))
	}
	m.logger.Info().Str("service", identity).Msg("Service stopped")
	return nil
}

// Install implements Manager: write the script (always overwriting), mark it
// executable, and start the service through it.
func (m *SysVManager) Install(ctx context.Context, identity string, spec *engine.ServiceSpec) error {
	contents, err := renderInitScript(identity, spec)
	if err != nil {
		return engine.NewApplyError("failed to render init script", err).WithIdentity(identity)
	}

	path := m.scriptPath(identity)
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		return engine.NewApplyError(
			fmt.Sprintf("failed to write init script %s", path), err).WithIdentity(identity)
	}

	result, err := m.runner.Run(ctx, path, "start")
	if err != nil {
		return engine.NewApplyError("failed to run start action", err).
			WithIdentity(identity).WithCode(engine.ErrCodeStartFailed)
	}
	if !result.Succeeded() {
		return engine.NewApplyError(
			fmt.Sprintf("start action failed: %s", result.CombinedTail(5)), nil).
			WithIdentity(identity).WithCode(engine.ErrCodeStartFailed)
	}

	m.logger.Info().Str("service", identity).Msg("Init script installed and service started")
	return nil
}

// Diagnostics implements Manager from the log file the script appends to.
func (m *SysVManager) Diagnostics(ctx context.Context, identity string, maxLines int) string {
	data, err := os.ReadFile(filepath.Join("/var/log", identity+".log"))
	if err != nil {
		return ""
	}
	return runner.Tail(string(data), maxLines)
}

// recordedExecPath reads the exec-path marker back out of the init script.
func (m *SysVManager) recordedExecPath(identity string) (string, error) {
	data, err := os.ReadFile(m.scriptPath(identity))
	if err != nil {
		return "", fmt.Errorf("failed to read init script: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, execPathMarker) {
			return strings.TrimSpace(strings.TrimPrefix(line, execPathMarker)), nil
		}
	}
	return "", fmt.Errorf("init script for %s carries no exec-path marker", identity)
}

// liveProcessCommands reads the command line of every running process.
func liveProcessCommands(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	commands := make([]string, 0, len(procs))
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		commands = append(commands, cmdline)
	}
	return commands, nil
}
