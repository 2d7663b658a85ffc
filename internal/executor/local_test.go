package executor

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestExecutor() *LocalExecutor {
	return NewLocalExecutor("sh", zap.NewNop())
}

func mustExecute(t *testing.T, job Job) *Result {
	t.Helper()
	result, err := newTestExecutor().Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Failed to execute %q: %v", job.Script, err)
	}
	return result
}

func TestExitCodes(t *testing.T) {
	result := mustExecute(t, Job{Gate: "test", Script: "echo ok"})
	if result.ExitCode != 0 || !result.Passed() {
		t.Fatalf("Expected exit code 0, got %d", result.ExitCode)
	}
	if result.Output != "ok\n" {
		t.Fatalf("Unexpected output: %q", result.Output)
	}

	result = mustExecute(t, Job{Gate: "test", Script: "exit 3"})
	if result.ExitCode != 3 || result.Passed() {
		t.Fatalf("Expected exit code 3, got %d", result.ExitCode)
	}
}

func TestCombinedOutput(t *testing.T) {
	result := mustExecute(t, Job{Gate: "test", Script: "echo out; echo err 1>&2; exit 1"})
	if result.ExitCode != 1 {
		t.Fatalf("Expected exit code 1, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "out") || !strings.Contains(result.Output, "err") {
		t.Fatalf("Expected both streams in output, got %q", result.Output)
	}
}

func TestEnvironment(t *testing.T) {
	result := mustExecute(t, Job{
		Gate:   "test",
		Script: `echo "$CHECKGATE_TEST_MARK"`,
		Env:    append(os.Environ(), "CHECKGATE_TEST_MARK=42"),
	})
	if result.Output != "42\n" {
		t.Fatalf("Unexpected output: %q", result.Output)
	}
}

func TestOutputLimit(t *testing.T) {
	result := mustExecute(t, Job{
		Gate:        "test",
		Script:      "seq 1 5000",
		OutputLimit: 512,
	})
	if !result.Truncated {
		t.Fatal("Expected truncated output")
	}
	if len(result.Output) != 512 {
		t.Fatalf("Expected 512 bytes of output, got %d", len(result.Output))
	}
}

func TestTimeout(t *testing.T) {
	_, err := newTestExecutor().Execute(context.Background(), Job{
		Gate:    "slow",
		Script:  "echo started; sleep 5",
		Timeout: 100 * time.Millisecond,
	})

	var infra *InfraError
	if !errors.As(err, &infra) {
		t.Fatalf("Expected *InfraError, got %v", err)
	}
	if infra.Canceled {
		t.Fatal("Timeout must not be reported as cancellation")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}
	if !strings.Contains(infra.Output, "started") {
		t.Fatalf("Expected partial output, got %q", infra.Output)
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	_, err := newTestExecutor().Execute(ctx, Job{Gate: "slow", Script: "sleep 5"})

	var infra *InfraError
	if !errors.As(err, &infra) {
		t.Fatalf("Expected *InfraError, got %v", err)
	}
	if !infra.Canceled {
		t.Fatal("Expected canceled infrastructure error")
	}
}

func TestMissingShell(t *testing.T) {
	executor := NewLocalExecutor("/nonexistent/shell", zap.NewNop())
	_, err := executor.Execute(context.Background(), Job{Gate: "test", Script: "echo ok"})

	var infra *InfraError
	if !errors.As(err, &infra) {
		t.Fatalf("Expected *InfraError, got %v", err)
	}
	if infra.Canceled {
		t.Fatal("Missing shell must not be reported as cancellation")
	}
}
