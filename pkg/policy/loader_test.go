package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleRego = `# severity: error
# Blocks the reserved identity.
package berth.policies.sample

import rego.v1

deny contains msg if {
	input.request.identity == "reserved"
	msg := "identity is reserved"
}
`

func TestLoadFromPaths_DirectoryOfRegoFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sample.rego"), []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy from the directory, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "sample" {
		t.Errorf("Expected name from file base, got %q", p.Name)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity from metadata comment, got %q", p.Severity)
	}
	if p.Description != "Blocks the reserved identity." {
		t.Errorf("Expected description from leading comments, got %q", p.Description)
	}
	if !p.Enabled {
		t.Error("Expected loaded policies enabled")
	}
}

func TestLoadFromPaths_MissingPathFails(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	if _, err := l.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Fatal("Expected an error for a missing path")
	}
}

func TestLoadFromPaths_SingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deny-reserved.rego")
	if err := os.WriteFile(path, []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "deny-reserved" {
		t.Fatalf("Expected the single policy loaded, got %+v", policies)
	}
}

func TestExtractSeverity_DefaultsToWarning(t *testing.T) {
	source := "package berth.policies.x\n\ndeny contains msg if { msg := \"x\" }\n"
	if got := extractSeverity(source); got != SeverityWarning {
		t.Errorf("Expected warning default, got %q", got)
	}
}

func TestExtractSeverity_UnknownValueFallsBack(t *testing.T) {
	source := "# severity: fatal\npackage berth.policies.x\n"
	if got := extractSeverity(source); got != SeverityWarning {
		t.Errorf("Expected unknown severity to fall back to warning, got %q", got)
	}
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLoader(zerolog.Nop())
	reloaded := make(chan []Policy, 1)
	err := l.Watch(ctx, []string{dir}, func(policies []Policy) error {
		select {
		case reloaded <- policies:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "sample.rego"), []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case policies := <-reloaded:
		if len(policies) != 1 || policies[0].Name != "sample" {
			t.Fatalf("Expected the fresh policy set after the change, got %+v", policies)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a debounced reload after a policy file change")
	}
}

func TestWatch_IgnoresNonRegoFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLoader(zerolog.Nop())
	reloaded := make(chan struct{}, 1)
	err := l.Watch(ctx, []string{dir}, func(policies []Policy) error {
		select {
		case reloaded <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Fatal("Expected no reload for a non-policy file")
	case <-time.After(1 * time.Second):
	}
}

func TestWatchPolicies_EngineSwapsOperatorSet(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.WatchPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	builtins := len(e.ListPolicies())

	if err := os.WriteFile(filepath.Join(dir, "sample.rego"), []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.ListPolicies()) == builtins+1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := len(e.ListPolicies()); got != builtins+1 {
		t.Fatalf("Expected the operator policy swapped in next to %d built-ins, got %d policies", builtins, got)
	}

	result, err := e.EvaluateRequest(ctx, admissionInput(containerRequest("reserved", "nginx:1.27")))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected the reloaded policy to block the reserved identity")
	}
}

func TestLoadedPolicyCompilesAndEvaluates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sample.rego"), []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}

	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Unexpected error loading operator policies: %v", err)
	}

	result, err := e.EvaluateRequest(context.Background(), admissionInput(containerRequest("reserved", "nginx:1.27")))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected the loaded policy to block the reserved identity")
	}
}
