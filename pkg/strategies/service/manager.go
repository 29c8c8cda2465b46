// Package service implements the deployment strategy for OS-level background
// services. Two manager backends are polymorphic over the same capability
// set: the unit-based manager (systemd, preferred) and the legacy init-script
// manager (SysV, fallback). The backend is chosen once by the capability
// probe; the strategy never re-checks which one is active.
package service

import (
	"context"
	"fmt"
	"os"

	"github.com/openberth/berth/pkg/engine"
)

// Manager is the capability set both service manager backends implement.
type Manager interface {
	// Name identifies the backend ("systemd" or "sysvinit").
	Name() string

	// Exists reports whether the manager knows the service at all (unit file
	// or init script present).
	Exists(ctx context.Context, identity string) (bool, error)

	// IsActive reports whether the service is currently running.
	IsActive(ctx context.Context, identity string) (bool, error)

	// Stop halts the service and, for the unit-based backend, disables it.
	// The definition file is left in place; Install always overwrites it.
	Stop(ctx context.Context, identity string) error

	// Install renders the service definition, loads it into the manager,
	// enables it, and starts it. A pre-existing definition is overwritten,
	// never merged.
	Install(ctx context.Context, identity string, spec *engine.ServiceSpec) error

	// Diagnostics returns up to maxLines of recent service output,
	// best-effort.
	Diagnostics(ctx context.Context, identity string, maxLines int) string
}

// ensureExecutable enforces the strategy's precondition: the executable must
// exist, and must have execute permission or be fixable by granting it.
// Violations are terminal before any manager interaction.
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return engine.NewPreconditionError(
				fmt.Sprintf("service executable %q does not exist", path), nil).
				WithCode(engine.ErrCodeNotFound)
		}
		return engine.NewPreconditionError(
			fmt.Sprintf("cannot stat service executable %q", path), err)
	}
	if info.IsDir() {
		return engine.NewPreconditionError(
			fmt.Sprintf("service executable %q is a directory", path), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if info.Mode().Perm()&0o111 != 0 {
		return nil
	}
	if err := os.Chmod(path, info.Mode().Perm()|0o755); err != nil {
		return engine.NewPreconditionError(
			fmt.Sprintf("service executable %q is not executable and permission could not be granted", path), err).
			WithCode(engine.ErrCodePermissionDenied)
	}
	return nil
}
