package runner

import (
	"strings"
	"testing"
)

func TestRedactCommand_MasksSecretValues(t *testing.T) {
	logged := redactCommand(
		[]string{"s3cr3t", "hunter2"},
		"docker",
		[]string{"run", "-e", "DB_PASSWORD=s3cr3t", "-e", "API_KEY=hunter2", "nginx:1.27"},
	)

	if strings.Contains(logged, "s3cr3t") || strings.Contains(logged, "hunter2") {
		t.Fatalf("Expected secrets masked, got %q", logged)
	}
	if !strings.Contains(logged, "DB_PASSWORD=****") {
		t.Errorf("Expected env key to survive redaction, got %q", logged)
	}
	if !strings.Contains(logged, "nginx:1.27") {
		t.Errorf("Expected non-secret args untouched, got %q", logged)
	}
}

func TestRedactCommand_EmptySecretIgnored(t *testing.T) {
	logged := redactCommand([]string{""}, "echo", []string{"hello"})
	if logged != "echo hello" {
		t.Errorf("Expected 'echo hello', got %q", logged)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLines int
		want     string
	}{
		{"empty input", "", 5, ""},
		{"fewer lines than max", "a\nb", 5, "a\nb"},
		{"exactly max", "a\nb\nc", 3, "a\nb\nc"},
		{"more lines than max", "a\nb\nc\nd", 2, "c\nd"},
		{"zero max", "a\nb", 0, ""},
		{"trailing newline trimmed", "a\nb\n", 5, "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tail(tt.input, tt.maxLines)
			if got != tt.want {
				t.Errorf("Tail(%q, %d) = %q, want %q", tt.input, tt.maxLines, got, tt.want)
			}
		})
	}
}

func TestResult_CombinedTail(t *testing.T) {
	r := &Result{Stdout: "out1\nout2", Stderr: "err1"}
	got := r.CombinedTail(2)
	if got != "out2\nerr1" {
		t.Errorf("Expected 'out2\\nerr1', got %q", got)
	}
}

func TestResult_Succeeded(t *testing.T) {
	if !(&Result{ExitCode: 0}).Succeeded() {
		t.Error("Expected exit 0 to succeed")
	}
	if (&Result{ExitCode: 1}).Succeeded() {
		t.Error("Expected exit 1 to fail")
	}
}
