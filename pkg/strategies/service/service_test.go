package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openberth/berth/pkg/engine"
)

// fakeManager is a scripted Manager recording calls.
type fakeManager struct {
	exists    bool
	existsErr error
	active    bool
	activeErr error
	stopErr   error
	installed bool
	calls     []string
}

func (f *fakeManager) Name() string { return "fake" }

func (f *fakeManager) Exists(ctx context.Context, identity string) (bool, error) {
	f.calls = append(f.calls, "exists")
	return f.exists, f.existsErr
}

func (f *fakeManager) IsActive(ctx context.Context, identity string) (bool, error) {
	f.calls = append(f.calls, "is-active")
	return f.active, f.activeErr
}

func (f *fakeManager) Stop(ctx context.Context, identity string) error {
	f.calls = append(f.calls, "stop")
	return f.stopErr
}

func (f *fakeManager) Install(ctx context.Context, identity string, spec *engine.ServiceSpec) error {
	f.calls = append(f.calls, "install")
	f.installed = true
	return nil
}

func (f *fakeManager) Diagnostics(ctx context.Context, identity string, maxLines int) string {
	return "diag output"
}

// writeExecutable creates a runnable file under a temp dir.
func writeExecutable(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func serviceRequest(execPath string) *engine.DeploymentRequest {
	return &engine.DeploymentRequest{
		Kind:     engine.KindService,
		Identity: "worker",
		Service:  &engine.ServiceSpec{ExecPath: execPath, User: "svc"},
	}
}

func TestApply_MissingExecutable_PreconditionBeforeManager(t *testing.T) {
	mgr := &fakeManager{}
	s := New(mgr, zerolog.Nop())

	err := s.Apply(context.Background(), serviceRequest("/nonexistent/bin/run"))

	if !engine.IsPrecondition(err) {
		t.Fatalf("Expected precondition error, got %v", err)
	}
	if mgr.installed {
		t.Error("Expected no manager interaction for a missing executable")
	}
}

func TestApply_NonExecutableFile_PermissionGranted(t *testing.T) {
	path := writeExecutable(t, 0o644)
	mgr := &fakeManager{}
	s := New(mgr, zerolog.Nop())

	if err := s.Apply(context.Background(), serviceRequest(path)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Error("Expected execute permission granted")
	}
	if !mgr.installed {
		t.Error("Expected install after the precondition was fixed")
	}
}

func TestApply_ExecutableOK_Installs(t *testing.T) {
	path := writeExecutable(t, 0o755)
	mgr := &fakeManager{}
	s := New(mgr, zerolog.Nop())

	if err := s.Apply(context.Background(), serviceRequest(path)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !mgr.installed {
		t.Error("Expected install call")
	}
}

func TestDetectExisting_Mapping(t *testing.T) {
	tests := []struct {
		name string
		mgr  *fakeManager
		want engine.RuntimeState
	}{
		{"absent", &fakeManager{exists: false}, engine.StateAbsent},
		{"present running", &fakeManager{exists: true, active: true}, engine.StatePresentRunning},
		{"present stopped", &fakeManager{exists: true, active: false}, engine.StatePresentStopped},
		{"present liveness unknown", &fakeManager{exists: true, activeErr: errors.New("dbus down")}, engine.StatePresentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := New(tt.mgr, zerolog.Nop()).DetectExisting(context.Background(), "worker")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if state != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, state)
			}
		})
	}
}

func TestRemoveExisting_StopFailure_TeardownError(t *testing.T) {
	mgr := &fakeManager{stopErr: errors.New("job failed")}

	err := New(mgr, zerolog.Nop()).RemoveExisting(context.Background(), "worker")
	if !engine.IsTeardown(err) {
		t.Errorf("Expected teardown error, got %v", err)
	}
}

func TestPollVerify_ActiveMapsToRunning(t *testing.T) {
	state, err := New(&fakeManager{active: true}, zerolog.Nop()).PollVerify(context.Background(), "worker")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != engine.StatePresentRunning {
		t.Errorf("Expected present-running, got %s", state)
	}

	state, err = New(&fakeManager{active: false}, zerolog.Nop()).PollVerify(context.Background(), "worker")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != engine.StatePresentStopped {
		t.Errorf("Expected present-stopped, got %s", state)
	}
}
