package procio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLookupBinaryFindsShell(t *testing.T) {
	if _, err := LookupBinary("sh"); err != nil {
		t.Fatalf("LookupBinary(sh): %v", err)
	}
}

func TestLookupBinaryMissingFails(t *testing.T) {
	if _, err := LookupBinary("definitely-not-a-real-binary-xyz"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	res, err := Run(context.Background(), "", "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("stdout = %q, want %q", res.Stdout, "hello\n")
	}
}

func TestRunNonZeroExitIsRetryable(t *testing.T) {
	_, err := Run(context.Background(), "", "sh", "-c", "exit 3")
	var retryable *RetryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("err = %v, want *RetryableError", err)
	}
}

func TestRunWithRetryEventuallySucceeds(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	if err := os.WriteFile(counter, []byte("0"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Fails twice, then succeeds on the third attempt.
	script := `n=$(cat "` + counter + `"); n=$((n+1)); echo -n "$n" > "` + counter + `"; if [ "$n" -lt 3 ]; then exit 1; fi`
	_, err := RunWithRetry(context.Background(), 5, time.Millisecond, "", "sh", "-c", script)
	if err != nil {
		t.Fatalf("RunWithRetry: %v", err)
	}
	got, _ := os.ReadFile(counter)
	if string(got) != "3" {
		t.Fatalf("counter = %s, want 3 (two retries then success)", got)
	}
}

func TestPublishAtomicNeverLeavesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")
	if err := PublishAtomic(path, []byte("hello world")); err != nil {
		t.Fatalf("PublishAtomic: %v", err)
	}
	got, err := ReadAnnotation(path)
	if err != nil {
		t.Fatalf("ReadAnnotation: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("content = %q, want %q", got, "hello world")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "out.txt" {
			t.Errorf("unexpected leftover file %s in output dir", e.Name())
		}
	}
}

func TestWriteAnnotationOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.txt")
	if err := WriteAnnotation(path, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := WriteAnnotation(path, []byte("second")); err != nil {
		t.Fatal(err)
	}
	got, err := ReadAnnotation(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Fatalf("content = %q, want %q", got, "second")
	}
}
