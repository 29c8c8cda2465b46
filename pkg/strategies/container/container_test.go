package container

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/runner"
)

// fakeRunner replays scripted results keyed by the full command line and
// records every invocation.
type fakeRunner struct {
	results map[string]*runner.Result
	errs    map[string]error
	calls   []string
	secrets [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*runner.Result, error) {
	return f.RunRedacted(ctx, nil, name, args...)
}

func (f *fakeRunner) RunRedacted(ctx context.Context, secrets []string, name string, args ...string) (*runner.Result, error) {
	key := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, key)
	f.secrets = append(f.secrets, secrets)
	if err, ok := f.errs[key]; ok {
		return &runner.Result{ExitCode: -1}, err
	}
	if r, ok := f.results[key]; ok {
		return r, nil
	}
	return &runner.Result{ExitCode: 0}, nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func (f *fakeRunner) calledPrefix(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func newStrategy(f *fakeRunner) *Strategy {
	return New(f, zerolog.Nop())
}

const listCmd = "docker ps -a --format {{.Names}}\t{{.State}}"

func TestDetectExisting_ExactMatchOnly(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{
		listCmd: {Stdout: "app-2\trunning\napp-backup\texited\n", ExitCode: 0},
	}}

	state, err := newStrategy(f).DetectExisting(context.Background(), "app")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != engine.StateAbsent {
		t.Errorf("Expected absent for identity 'app' with only 'app-2' present, got %s", state)
	}
}

func TestDetectExisting_RunningAndStoppedStates(t *testing.T) {
	tests := []struct {
		name      string
		psOutput  string
		wantState engine.RuntimeState
	}{
		{"running container", "app\trunning\n", engine.StatePresentRunning},
		{"exited container", "app\texited\n", engine.StatePresentStopped},
		{"created container", "app\tcreated\n", engine.StatePresentStopped},
		{"unknown state", "app\trestarting\n", engine.StatePresentUnknown},
		{"no containers", "", engine.StateAbsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRunner{results: map[string]*runner.Result{
				listCmd: {Stdout: tt.psOutput, ExitCode: 0},
			}}
			state, err := newStrategy(f).DetectExisting(context.Background(), "app")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if state != tt.wantState {
				t.Errorf("Expected %s, got %s", tt.wantState, state)
			}
		})
	}
}

func TestDetectExisting_EngineUnavailable_PreconditionError(t *testing.T) {
	f := &fakeRunner{errs: map[string]error{
		listCmd: errors.New("docker: executable file not found"),
	}}

	_, err := newStrategy(f).DetectExisting(context.Background(), "app")
	if !engine.IsPrecondition(err) {
		t.Errorf("Expected precondition error when the engine is unavailable, got %v", err)
	}
}

func TestRemoveExisting_StopAndRemoveBothSucceed(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{
		"docker stop app": {ExitCode: 0},
		"docker rm app":   {ExitCode: 0},
	}}

	if err := newStrategy(f).RemoveExisting(context.Background(), "app"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestRemoveExisting_RemoveFails_TeardownError(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{
		"docker stop app": {ExitCode: 0},
		"docker rm app":   {ExitCode: 1, Stderr: "device or resource busy"},
	}}

	err := newStrategy(f).RemoveExisting(context.Background(), "app")
	if !engine.IsTeardown(err) {
		t.Fatalf("Expected teardown error for stopped-but-not-removed, got %v", err)
	}
	if !strings.Contains(err.Error(), "not removed") {
		t.Errorf("Expected partial-cleanup message, got %q", err.Error())
	}
}

func TestApply_PullFailure_NeverRuns(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{
		"docker pull nginx:1.27": {ExitCode: 1, Stderr: "manifest unknown"},
	}}
	req := &engine.DeploymentRequest{
		Kind:      engine.KindContainer,
		Identity:  "app",
		Container: &engine.ContainerSpec{Image: "nginx:1.27"},
	}

	err := newStrategy(f).Apply(context.Background(), req)
	if !engine.IsApply(err) {
		t.Fatalf("Expected apply error on pull failure, got %v", err)
	}
	if f.calledPrefix("docker run") {
		t.Error("Expected no docker run after a failed pull")
	}
}

func TestApply_RunArgsAndEnvRedaction(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{}}
	req := &engine.DeploymentRequest{
		Kind:     engine.KindContainer,
		Identity: "app",
		Container: &engine.ContainerSpec{
			Image:     "nginx:1.27",
			Ports:     []string{"8080:80"},
			Env:       map[string]string{"DB_PASSWORD": "s3cr3t"},
			Volumes:   []string{"/data:/var/lib/data"},
			ExtraArgs: []string{"--memory", "256m"},
		},
	}

	if err := newStrategy(f).Apply(context.Background(), req); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var runCall string
	var runSecrets []string
	for i, c := range f.calls {
		if strings.HasPrefix(c, "docker run") {
			runCall = c
			runSecrets = f.secrets[i]
		}
	}
	if runCall == "" {
		t.Fatal("Expected a docker run call")
	}
	for _, want := range []string{"--name app", "-p 8080:80", "-e DB_PASSWORD=s3cr3t", "-v /data:/var/lib/data", "--memory 256m", "nginx:1.27"} {
		if !strings.Contains(runCall, want) {
			t.Errorf("Expected run command to contain %q, got %q", want, runCall)
		}
	}
	if len(runSecrets) != 1 || runSecrets[0] != "s3cr3t" {
		t.Errorf("Expected env value passed for redaction, got %v", runSecrets)
	}
}

func TestPollVerify_States(t *testing.T) {
	const inspectCmd = "docker inspect --format {{.State.Status}} app"

	tests := []struct {
		name   string
		result *runner.Result
		want   engine.RuntimeState
	}{
		{"running", &runner.Result{Stdout: "running\n", ExitCode: 0}, engine.StatePresentRunning},
		{"exited", &runner.Result{Stdout: "exited\n", ExitCode: 0}, engine.StatePresentStopped},
		{"gone", &runner.Result{ExitCode: 1, Stderr: "No such object"}, engine.StateAbsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRunner{results: map[string]*runner.Result{inspectCmd: tt.result}}
			state, err := newStrategy(f).PollVerify(context.Background(), "app")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if state != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, state)
			}
		})
	}
}

func TestDiagnostics_ReturnsLogTail(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{
		"docker logs --tail 20 app": {Stdout: "line1\nline2\n", ExitCode: 0},
	}}

	got := newStrategy(f).Diagnostics(context.Background(), "app", 20)
	if !strings.Contains(got, "line2") {
		t.Errorf("Expected log tail, got %q", got)
	}
}
