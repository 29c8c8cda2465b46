package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/rs/zerolog"

	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/runner"
)

// dbusConn is the subset of the systemd D-Bus API the backend uses.
type dbusConn interface {
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]sddbus.UnitStatus, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []sddbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]sddbus.DisableUnitFileChange, error)
	ReloadContext(ctx context.Context) error
	Close()
}

// SystemdManager is the unit-based backend, speaking to systemd over D-Bus.
type SystemdManager struct {
	unitDir string
	runner  runner.Runner
	logger  zerolog.Logger
	connect func(ctx context.Context) (dbusConn, error)
}

// NewSystemdManager creates the systemd backend writing units to
// /etc/systemd/system.
func NewSystemdManager(run runner.Runner, logger zerolog.Logger) *SystemdManager {
	return &SystemdManager{
		unitDir: "/etc/systemd/system",
		runner:  run,
		logger:  logger.With().Str("component", "service.systemd").Logger(),
		connect: func(ctx context.Context) (dbusConn, error) {
			return sddbus.NewSystemConnectionContext(ctx)
		},
	}
}

// Name implements Manager.
func (m *SystemdManager) Name() string { return "systemd" }

func (m *SystemdManager) unitName(identity string) string {
	return identity + ".service"
}

func (m *SystemdManager) unitPath(identity string) string {
	return filepath.Join(m.unitDir, m.unitName(identity))
}

// Exists implements Manager. A unit exists if systemd has it loaded or its
// unit file is on disk.
func (m *SystemdManager) Exists(ctx context.Context, identity string) (bool, error) {
	if _, err := os.Stat(m.unitPath(identity)); err == nil {
		return true, nil
	}

	conn, err := m.connect(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{m.unitName(identity)})
	if err != nil {
		return false, fmt.Errorf("failed to query unit %s: %w", m.unitName(identity), err)
	}
	for _, u := range units {
		if u.Name == m.unitName(identity) && u.LoadState != "not-found" {
			return true, nil
		}
	}
	return false, nil
}

// IsActive implements Manager.
func (m *SystemdManager) IsActive(ctx context.Context, identity string) (bool, error) {
	conn, err := m.connect(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{m.unitName(identity)})
	if err != nil {
		return false, fmt.Errorf("failed to query unit %s: %w", m.unitName(identity), err)
	}
	for _, u := range units {
		if u.Name == m.unitName(identity) {
			return u.ActiveState == "active", nil
		}
	}
	return false, nil
}

// Stop implements Manager: stop the unit and disable it. The unit file stays
// in place; Install overwrites it.
func (m *SystemdManager) Stop(ctx context.Context, identity string) error {
	conn, err := m.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	unit := m.unitName(identity)

	done := make(chan string, 1)
	if _, err := conn.StopUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("failed to stop unit %s: %w", unit, err)
	}
	if result := <-done; result != "done" && result != "skipped" {
		return fmt.Errorf("stop job for unit %s finished with result %q", unit, result)
	}

	if _, err := conn.DisableUnitFilesContext(ctx, []string{unit}, false); err != nil {
		// A never-enabled unit is fine; anything else is a real failure.
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("failed to disable unit %s: %w", unit, err)
		}
	}

	m.logger.Info().Str("unit", unit).Msg("Unit stopped and disabled")
	return nil
}

// Install implements Manager: render the unit, reload systemd, enable, start.
func (m *SystemdManager) Install(ctx context.Context, identity string, spec *engine.ServiceSpec) error {
	contents, err := renderUnit(identity, spec)
	if err != nil {
		return engine.NewApplyError("failed to render unit file", err).WithIdentity(identity)
	}

	path := m.unitPath(identity)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return engine.NewApplyError(
			fmt.Sprintf("failed to write unit file %s", path), err).WithIdentity(identity)
	}

	conn, err := m.connect(ctx)
	if err != nil {
		return engine.NewApplyError("failed to connect to systemd", err).WithIdentity(identity)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return engine.NewApplyError("failed to reload systemd configuration", err).WithIdentity(identity)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{path}, false, true); err != nil {
		return engine.NewApplyError(
			fmt.Sprintf("failed to enable unit %s", m.unitName(identity)), err).WithIdentity(identity)
	}

	done := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, m.unitName(identity), "replace", done); err != nil {
		return engine.NewApplyError(
			fmt.Sprintf("failed to start unit %s", m.unitName(identity)), err).
			WithIdentity(identity).WithCode(engine.ErrCodeStartFailed)
	}
	if result := <-done; result != "done" {
		return engine.NewApplyError(
			fmt.Sprintf("start job for unit %s finished with result %q", m.unitName(identity), result), nil).
			WithIdentity(identity).WithCode(engine.ErrCodeStartFailed)
	}

	m.logger.Info().Str("unit", m.unitName(identity)).Msg("Unit installed and started")
	return nil
}

// Diagnostics implements Manager via the journal.
func (m *SystemdManager) Diagnostics(ctx context.Context, identity string, maxLines int) string {
	result, err := m.runner.Run(ctx, "journalctl", "-u", m.unitName(identity),
		"-n", fmt.Sprintf("%d", maxLines), "--no-pager")
	if err != nil {
		return ""
	}
	return result.CombinedTail(maxLines)
}
