package helm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/runner"
)

// fakeRunner replays scripted results keyed by the full command line.
type fakeRunner struct {
	results map[string]*runner.Result
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*runner.Result, error) {
	return f.RunRedacted(ctx, nil, name, args...)
}

func (f *fakeRunner) RunRedacted(ctx context.Context, secrets []string, name string, args ...string) (*runner.Result, error) {
	key := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if r, ok := f.results[key]; ok {
		return r, nil
	}
	return &runner.Result{ExitCode: 0}, nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	return "/usr/local/bin/" + name, nil
}

func (f *fakeRunner) calledPrefix(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func newStrategy(f *fakeRunner, client kubernetes.Interface) *Strategy {
	s := New(f, client, zerolog.Nop())
	s.rolloutTimeout = 50 * time.Millisecond
	s.rolloutPollInterval = 10 * time.Millisecond
	return s
}

func helmRequest(values string) *engine.DeploymentRequest {
	return &engine.DeploymentRequest{
		Kind:     engine.KindHelmRelease,
		Identity: "web",
		Helm: &engine.HelmSpec{
			Chart:      "bitnami/nginx",
			Namespace:  "apps",
			ValuesFile: values,
		},
	}
}

func registeredRepos() map[string]*runner.Result {
	return map[string]*runner.Result{
		"helm repo list -o json": {Stdout: `[{"name":"bitnami","url":"https://charts.bitnami.com/bitnami"}]`, ExitCode: 0},
	}
}

func TestDetectExisting_AlwaysAbsent(t *testing.T) {
	s := newStrategy(&fakeRunner{}, fake.NewSimpleClientset())
	state, err := s.DetectExisting(context.Background(), "web")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != engine.StateAbsent {
		t.Errorf("Expected absent (idempotent install opts out of teardown), got %s", state)
	}
}

func TestApply_MissingValuesFile_FailsBeforeInstall(t *testing.T) {
	f := &fakeRunner{results: registeredRepos()}
	s := newStrategy(f, fake.NewSimpleClientset())

	err := s.Apply(context.Background(), helmRequest("/nonexistent/values.yaml"))

	if !engine.IsPrecondition(err) {
		t.Fatalf("Expected precondition error, got %v", err)
	}
	if f.calledPrefix("helm upgrade") {
		t.Error("Expected no install attempt for a missing values file")
	}
}

func TestApply_UnregisteredRepoAlias_PreconditionFailure(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{
		"helm repo list -o json": {Stdout: `[{"name":"grafana","url":"https://grafana.github.io/helm-charts"}]`, ExitCode: 0},
	}}
	s := newStrategy(f, fake.NewSimpleClientset())

	err := s.Apply(context.Background(), helmRequest(""))

	if !engine.IsPrecondition(err) {
		t.Fatalf("Expected precondition error for unregistered alias, got %v", err)
	}
	if f.calledPrefix("helm upgrade") {
		t.Error("Expected no install attempt for an unregistered alias")
	}
}

func TestApply_CreatesMissingNamespaceAndInstalls(t *testing.T) {
	f := &fakeRunner{results: registeredRepos()}
	client := fake.NewSimpleClientset()
	s := newStrategy(f, client)

	if err := s.Apply(context.Background(), helmRequest("")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := client.CoreV1().Namespaces().Get(context.Background(), "apps", metav1.GetOptions{}); err != nil {
		t.Errorf("Expected namespace auto-created: %v", err)
	}
	if !f.calledPrefix("helm repo update bitnami") {
		t.Error("Expected registered repo refreshed before use")
	}
	if !f.calledPrefix("helm upgrade --install web bitnami/nginx --namespace apps") {
		t.Errorf("Expected upgrade --install call, got %v", f.calls)
	}
}

func TestApply_ExistingNamespaceUntouched(t *testing.T) {
	f := &fakeRunner{results: registeredRepos()}
	client := fake.NewSimpleClientset(&corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: "apps"},
	})
	s := newStrategy(f, client)

	if err := s.Apply(context.Background(), helmRequest("")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestApply_LocalChartPath_SkipsRepoHandling(t *testing.T) {
	chartDir := t.TempDir()
	f := &fakeRunner{}
	s := newStrategy(f, fake.NewSimpleClientset())
	req := &engine.DeploymentRequest{
		Kind:     engine.KindHelmRelease,
		Identity: "web",
		Helm:     &engine.HelmSpec{Chart: chartDir, Namespace: "apps"},
	}

	if err := s.Apply(context.Background(), req); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.calledPrefix("helm repo") {
		t.Errorf("Expected no repo interaction for a filesystem chart, got %v", f.calls)
	}
}

func TestApply_ValuesFilePassedToInstall(t *testing.T) {
	values := filepath.Join(t.TempDir(), "values.yaml")
	if err := os.WriteFile(values, []byte("replicaCount: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := &fakeRunner{results: registeredRepos()}
	s := newStrategy(f, fake.NewSimpleClientset())

	if err := s.Apply(context.Background(), helmRequest(values)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !f.calledPrefix("helm upgrade --install web bitnami/nginx --namespace apps -f " + values) {
		t.Errorf("Expected -f %s in install args, got %v", values, f.calls)
	}
}

func deployment(name string, desired, available int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "apps",
			Labels:    map[string]string{instanceLabel: "web"},
		},
		Spec: appsv1.DeploymentSpec{Replicas: &desired},
		Status: appsv1.DeploymentStatus{
			UpdatedReplicas:   available,
			AvailableReplicas: available,
		},
	}
}

func statusResult(status string) map[string]*runner.Result {
	return map[string]*runner.Result{
		"helm status web --namespace apps -o json": {
			Stdout:   `{"info":{"status":"` + status + `"}}`,
			ExitCode: 0,
		},
	}
}

func TestPollVerify_DeployedAndConverged(t *testing.T) {
	f := &fakeRunner{results: statusResult("deployed")}
	client := fake.NewSimpleClientset(deployment("web", 2, 2))
	s := newStrategy(f, client)
	s.namespace = "apps"

	state, err := s.PollVerify(context.Background(), "web")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != engine.StatePresentRunning {
		t.Errorf("Expected present-running, got %s", state)
	}
}

func TestPollVerify_WorkloadNeverConverges(t *testing.T) {
	f := &fakeRunner{results: statusResult("deployed")}
	client := fake.NewSimpleClientset(deployment("web", 2, 1))
	s := newStrategy(f, client)
	s.namespace = "apps"

	state, err := s.PollVerify(context.Background(), "web")
	if err == nil {
		t.Fatal("Expected an error for a stalled rollout")
	}
	if state != engine.StatePresentStopped {
		t.Errorf("Expected present-stopped, got %s", state)
	}
	if diag := s.Diagnostics(context.Background(), "web", 20); !strings.Contains(diag, "deployment web") {
		t.Errorf("Expected workload description in diagnostics, got %q", diag)
	}
}

func TestPollVerify_FailedRelease(t *testing.T) {
	f := &fakeRunner{results: statusResult("failed")}
	s := newStrategy(f, fake.NewSimpleClientset())
	s.namespace = "apps"

	state, err := s.PollVerify(context.Background(), "web")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != engine.StatePresentStopped {
		t.Errorf("Expected present-stopped for a failed release, got %s", state)
	}
}

func TestPollVerify_ReleaseNotFound(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{
		"helm status web --namespace apps -o json": {
			ExitCode: 1,
			Stderr:   "Error: release: not found",
		},
	}}
	s := newStrategy(f, fake.NewSimpleClientset())
	s.namespace = "apps"

	state, err := s.PollVerify(context.Background(), "web")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != engine.StateAbsent {
		t.Errorf("Expected absent, got %s", state)
	}
}

func TestRepoAlias(t *testing.T) {
	tests := []struct {
		chart     string
		wantAlias string
		wantOK    bool
	}{
		{"bitnami/nginx", "bitnami", true},
		{"/opt/charts/nginx", "", false},
		{"./charts/nginx", "", false},
		{"nginx", "", false},
	}

	for _, tt := range tests {
		alias, ok := repoAlias(tt.chart)
		if alias != tt.wantAlias || ok != tt.wantOK {
			t.Errorf("repoAlias(%q) = (%q, %v), want (%q, %v)",
				tt.chart, alias, ok, tt.wantAlias, tt.wantOK)
		}
	}
}
