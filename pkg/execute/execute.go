// Package execute is the schedule.Executor the cli command layer wires in:
// it dispatches a compiled job to its owning processor's RunFunc, either
// in-process or over a preloader socket when one is configured and the
// processor declares a preloader, and computes the content-key/freshness
// pair the scheduler needs from the resolved bindings, grounded on
// §4.E of the design notes.
package execute

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sparv-lang/engine/internal/engineerr"
	"github.com/sparv-lang/engine/pkg/preload"
	"github.com/sparv-lang/engine/pkg/registry"
	"github.com/sparv-lang/engine/pkg/resolve"
	"github.com/sparv-lang/engine/pkg/schedule"
)

// PreloadClient is the subset of *preload.Client an Executor needs, kept
// as an interface so tests can substitute a fake without a live socket.
type PreloadClient interface {
	RunJob(processorID, sourceFile string, bindings map[string]any, force bool, configFingerprint string) (preload.Response, error)
}

// Executor implements schedule.Executor by binding each job's rule
// parameters into a concrete argument map and invoking the descriptor's
// RunFunc, routing through a preloader socket for preloadable processors
// when one is configured.
type Executor struct {
	Resolver *resolve.Resolver

	// Preload is consulted for any job whose processor declares a
	// Preloader; nil means always run in-process even for preloadable
	// processors (the --force-preloader-less path).
	Preload           PreloadClient
	ConfigFingerprint string
	ForcePreloader    bool

	// ModelVersions and ConfigSubtree feed the content key, supplied by the
	// caller since they are corpus/registry scoped, not job scoped.
	ModelVersions func(d *registry.Descriptor) map[string]string
	ConfigSubtree func(d *registry.Descriptor) map[string]any
	RegistryHash  string
}

// Execute implements schedule.Executor.
func (e *Executor) Execute(ctx context.Context, job *schedule.Job) error {
	d := job.Rule.Processor
	if d.Run == nil {
		return fmt.Errorf("%w: processor %q has no run function bound", engineerr.ErrProcessorInvalid, d.ID)
	}

	if d.Preloader != nil && e.Preload != nil {
		resp, err := e.Preload.RunJob(d.ID, job.SourceFile, job.Bindings, e.ForcePreloader, e.ConfigFingerprint)
		if err != nil {
			return fmt.Errorf("%w: preloader job for %s: %v", engineerr.ErrSocketError, d.ID, err)
		}
		if resp.OK {
			return nil
		}
		if (resp.Refused || resp.Stale) && !e.ForcePreloader {
			// The preloader is busy or its warm state was built from a
			// stale config; fall through to a local run rather than fail
			// the job outright.
		} else {
			return fmt.Errorf("%w: %s", engineerr.ErrRuleFailed, resp.Error)
		}
	}

	if err := d.Run(ctx, job.SourceFile, job.Bindings); err != nil {
		return fmt.Errorf("%w: %s: %v", engineerr.ErrRuleFailed, d.ID, err)
	}
	return nil
}

// ContentKey implements schedule.Executor, gathering a stat of every
// declared input plus model versions and the processor's effective config
// subtree.
func (e *Executor) ContentKey(job *schedule.Job) (schedule.ContentKeyInputs, error) {
	d := job.Rule.Processor
	var inputs []schedule.InputStat
	for _, ref := range job.Rule.Inputs {
		path, err := e.Resolver.FilePath(ref, job.SourceFile)
		if err != nil {
			continue // unresolved optional input; freshness falls back to output mtime
		}
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		inputs = append(inputs, schedule.InputStat{Path: path, ModUnix: st.ModTime().Unix(), Size: st.Size()})
	}

	var modelVersions map[string]string
	if e.ModelVersions != nil {
		modelVersions = e.ModelVersions(d)
	}
	var configSubtree map[string]any
	if e.ConfigSubtree != nil {
		configSubtree = e.ConfigSubtree(d)
	}

	registryHash := e.RegistryHash

	return schedule.ContentKeyInputs{
		RuleID:        job.Rule.ID,
		Bindings:      job.Bindings,
		Inputs:        inputs,
		ModelVersions: modelVersions,
		ConfigSubtree: configSubtree,
		RegistryHash:  registryHash,
	}, nil
}

// OutputFresh implements schedule.Executor: an output is a freshness
// candidate only if it exists and is newer than every stat-able declared
// input. The scheduler still checks the content key on top of this, per
// §4.E step 3's two-part freshness test.
func (e *Executor) OutputFresh(job *schedule.Job) (bool, error) {
	outPath, err := e.Resolver.FilePath(job.Output, job.SourceFile)
	if err != nil {
		return false, nil
	}
	outStat, err := os.Stat(outPath)
	if err != nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return false, err
	}

	for _, ref := range job.Rule.Inputs {
		path, err := e.Resolver.FilePath(ref, job.SourceFile)
		if err != nil {
			continue
		}
		inStat, err := os.Stat(path)
		if err != nil {
			continue
		}
		if inStat.ModTime().After(outStat.ModTime()) {
			return false, nil
		}
	}
	return true, nil
}
