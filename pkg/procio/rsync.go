package procio

import (
	"context"
	"time"
)

// RsyncOptions configures one export sync pass.
type RsyncOptions struct {
	Delete  bool // mirror the destination exactly, removing extra files
	Archive bool // preserve permissions, timestamps, symlinks (-a)
	Exclude []string
}

// Rsync mirrors src into dst using the rsync binary on PATH, retrying
// transient failures with up to 3 attempts in total and 1s initial backoff (the same
// defaults as the teacher's RetryWithBackoff), used for corpus-to-export
// syncing (spec.md's exporter output publication).
func Rsync(ctx context.Context, src, dst string, opts RsyncOptions) (Result, error) {
	if _, err := LookupBinary("rsync"); err != nil {
		return Result{}, err
	}

	args := []string{}
	if opts.Archive {
		args = append(args, "-a")
	}
	if opts.Delete {
		args = append(args, "--delete")
	}
	for _, pattern := range opts.Exclude {
		args = append(args, "--exclude", pattern)
	}
	args = append(args, src, dst)

	return RunWithRetry(ctx, 3, time.Second, "", "rsync", args...)
}
