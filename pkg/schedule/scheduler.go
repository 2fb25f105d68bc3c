package schedule

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/sparv-lang/engine/internal/engineerr"
	"github.com/sparv-lang/engine/pkg/rules"
)

// Executor runs one job to completion, resolving its content key
// beforehand so freshness can be checked against the KeyStore.
type Executor interface {
	// Execute runs job.Rule against job.SourceFile and job.Bindings. It
	// must publish its output atomically (temporary path + rename), per
	// §5's ordering guarantees; see pkg/procio for the shared helper.
	Execute(ctx context.Context, job *Job) error
	// ContentKey computes job's content key input bundle (input file
	// stats, model versions, effective config subtree) so the scheduler
	// can compare it against the persisted key from the previous run.
	ContentKey(job *Job) (ContentKeyInputs, error)
	// OutputFresh reports whether job's output file already exists and is
	// newer than every declared input, the second half of the freshness
	// test alongside the content-key comparison.
	OutputFresh(job *Job) (bool, error)
}

// Scheduler runs a job graph to completion with a bounded worker pool,
// respecting per-rule thread caps, job priority, and preferred-over-backoff
// producer ordering, per §4.E steps 4-7.
type Scheduler struct {
	Graph    *Graph
	Executor Executor
	KeyStore KeyStore
	Workers  int
	Logger   *log.Logger

	// Builder, if set, lets the scheduler wire a runtime backoff producer's
	// own input edges into Graph on the fly rather than reusing whatever
	// edges were built for the producer it replaces (§4.E step 5). Nil
	// degrades to reusing the failed producer's existing dependency edges.
	Builder *Builder

	// IgnoreRegistryHash, when set, excludes the registry hash from content
	// keys (Open Question Decision override flag).
	IgnoreRegistryHash bool
	RegistryHash       string

	mu        sync.Mutex
	cond      *sync.Cond
	queue     jobHeap
	indegree  map[string]int
	remaining int
	failed    []*Job
	done      bool
}

// New builds a Scheduler for graph, running jobs with up to workers
// concurrent goroutines total, plus any per-rule MaxThreads caps.
func New(graph *Graph, exec Executor, keys KeyStore, workers int, logger *log.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	s := &Scheduler{
		Graph:    graph,
		Executor: exec,
		KeyStore: keys,
		Workers:  workers,
		Logger:   logger,
		indegree: map[string]int{},
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Run executes the graph to completion, returning an aggregate error when
// one or more jobs failed after exhausting their backoff producers. Run
// respects ctx cancellation as a drain: no new jobs are dispatched once ctx
// is done, but jobs already running are allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	for _, j := range s.Graph.Ordered() {
		s.indegree[j.ID] = len(j.Deps)
		s.remaining++
	}
	for _, j := range s.Graph.Ordered() {
		if s.indegree[j.ID] == 0 {
			s.enqueueLocked(j)
		}
	}
	s.mu.Unlock()

	perRule := map[string]*semaphore.Weighted{}
	var perRuleMu sync.Mutex
	ruleSem := func(ruleID string, max int) *semaphore.Weighted {
		if max <= 0 {
			return nil
		}
		perRuleMu.Lock()
		defer perRuleMu.Unlock()
		sem, ok := perRule[ruleID]
		if !ok {
			sem = semaphore.NewWeighted(int64(max))
			perRule[ruleID] = sem
		}
		return sem
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-runCtx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	global := semaphore.NewWeighted(int64(s.Workers))
	var wg sync.WaitGroup

	for i := 0; i < s.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job := s.dequeue(ctx)
				if job == nil {
					return
				}
				if err := global.Acquire(ctx, 1); err != nil {
					s.finishLocked(job, err)
					continue
				}
				sem := ruleSem(job.Rule.ID, job.Rule.Processor.MaxThreads)
				if sem != nil {
					if err := sem.Acquire(ctx, 1); err != nil {
						global.Release(1)
						s.finishLocked(job, err)
						continue
					}
				}

				err := s.runOne(ctx, job)

				if sem != nil {
					sem.Release(1)
				}
				global.Release(1)
				s.finishLocked(job, err)
			}
		}()
	}
	wg.Wait()

	if len(s.failed) > 0 {
		return fmt.Errorf("%w: %d job(s) failed", engineerr.ErrRuleFailed, len(s.failed))
	}
	return nil
}

// runOne executes a single job attempt, checking freshness first and
// falling through the backoff chain on an unsatisfiable or failed attempt.
func (s *Scheduler) runOne(ctx context.Context, job *Job) error {
	for {
		fresh, err := s.checkFresh(job)
		if err != nil {
			return err
		}
		if fresh {
			job.Status = StatusFresh
			return nil
		}

		job.Status = StatusRunning
		runErr := s.Executor.Execute(ctx, job)
		if runErr == nil {
			job.Status = StatusDone
			if job.ContentKey != "" && s.KeyStore != nil {
				_ = s.KeyStore.Set(ctx, job.ID, job.ContentKey)
			}
			return nil
		}

		s.Logger.Warn("job failed", "job", job.ID, "rule", job.Rule.ID, "err", runErr)
		if !s.switchToNextBackoff(ctx, job) {
			job.Status = StatusFailed
			job.Err = runErr
			return runErr
		}
	}
}

// switchToNextBackoff tries job's remaining backoff producers in order,
// wiring and satisfying that producer's own input subgraph (which may name
// entirely different inputs than the producer it replaces) before
// installing it as job.Rule. It reports whether a satisfiable backoff
// producer was found.
func (s *Scheduler) switchToNextBackoff(ctx context.Context, job *Job) bool {
	for len(job.Backoff) > 0 {
		next := job.Backoff[0]
		job.Backoff = job.Backoff[1:]

		depIDs, err := s.wireBackoffInputs(job, next)
		if err != nil {
			continue // this candidate's own inputs are unsatisfiable; try the next
		}
		satisfied := true
		for _, depID := range depIDs {
			if err := s.runInline(ctx, depID); err != nil {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}

		job.Rule = next
		job.Bindings = next.Bindings
		job.Deps = depIDs
		return true
	}
	return false
}

// wireBackoffInputs resolves candidate's dependency job IDs for job's
// source file, building whatever new job nodes the live graph doesn't
// already have. Without a Builder it falls back to job's existing edges,
// the pre-fix behaviour.
func (s *Scheduler) wireBackoffInputs(job *Job, candidate *rules.Rule) ([]string, error) {
	if s.Builder == nil {
		return job.Deps, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Builder.ExtendGraph(s.Graph, candidate, job.SourceFile)
}

// runInline satisfies job id, recursing into its dependencies first. Ids
// already tracked by the normal ready queue (Ready/Running) are waited on
// rather than re-run, since another worker may already own them; ids with
// no queue history (freshly discovered via backoff) are run directly here,
// safely, since nothing else can ever dequeue a job never enqueued.
func (s *Scheduler) runInline(ctx context.Context, id string) error {
	s.mu.Lock()
	job := s.Graph.Jobs[id]
	status := job.Status
	s.mu.Unlock()

	switch status {
	case StatusDone, StatusFresh:
		return nil
	case StatusFailed, StatusTainted:
		return fmt.Errorf("%w: %s", engineerr.ErrRuleFailed, id)
	case StatusReady, StatusRunning:
		return s.waitFor(id)
	}

	for _, depID := range job.Deps {
		if err := s.runInline(ctx, depID); err != nil {
			return err
		}
	}
	err := s.runOne(ctx, job)
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	return err
}

// waitFor blocks until the queue-managed job id reaches a terminal status.
func (s *Scheduler) waitFor(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		job := s.Graph.Jobs[id]
		switch job.Status {
		case StatusDone, StatusFresh:
			return nil
		case StatusFailed, StatusTainted:
			return fmt.Errorf("%w: %s", engineerr.ErrRuleFailed, id)
		}
		s.cond.Wait()
	}
}

// checkFresh computes job's content key, compares it with the persisted key
// from the previous run, and additionally requires the output file to
// already exist and be newer than all inputs, per §4.E step 3.
func (s *Scheduler) checkFresh(job *Job) (bool, error) {
	inputs, err := s.Executor.ContentKey(job)
	if err != nil {
		return false, err
	}
	if !s.IgnoreRegistryHash {
		inputs.RegistryHash = s.RegistryHash
	}
	job.ContentKey = ComputeContentKey(inputs)

	if s.KeyStore == nil {
		return false, nil
	}
	prev, ok, err := s.KeyStore.Get(context.Background(), job.ID)
	if err != nil {
		return false, err
	}
	if !ok || prev != job.ContentKey {
		return false, nil
	}
	return s.Executor.OutputFresh(job)
}

// finishLocked records a job's completion and releases dependents whose
// other inputs are now all satisfied, or taints them if the job failed.
func (s *Scheduler) finishLocked(job *Job, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remaining--
	if err != nil && job.Status != StatusFresh {
		s.failed = append(s.failed, job)
		s.taintDependentsLocked(job)
		s.cond.Broadcast()
		return
	}

	for _, depID := range job.Dependents {
		dep := s.Graph.Jobs[depID]
		if dep.Status == StatusTainted {
			continue
		}
		s.indegree[depID]--
		if s.indegree[depID] == 0 {
			s.enqueueLocked(dep)
		}
	}
	s.cond.Broadcast()
}

// taintDependentsLocked marks job's whole downstream closure StatusTainted,
// per §4.E step 7: "mark the job and everything downstream as tainted;
// continue with independent branches until none remain."
func (s *Scheduler) taintDependentsLocked(job *Job) {
	var stack []*Job
	stack = append(stack, job)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, depID := range cur.Dependents {
			dep := s.Graph.Jobs[depID]
			// A dependent may share more than one failed ancestor (a diamond
			// in the graph); only the first ancestor to reach it taints it
			// and decrements remaining, or a shared dependent gets
			// double-counted and remaining desyncs from the true job count.
			if dep.Status == StatusTainted {
				continue
			}
			dep.Status = StatusTainted
			s.remaining--
			stack = append(stack, dep)
		}
	}
}

// enqueueLocked marks job ready and pushes it onto the priority queue.
// Callers must hold s.mu.
func (s *Scheduler) enqueueLocked(job *Job) {
	job.Status = StatusReady
	heap.Push(&s.queue, job)
}

// dequeue blocks until a ready job is available, the graph is fully
// drained, or ctx is cancelled, in which case it returns nil so workers can
// exit cleanly (cancellation-as-drain: in-flight jobs are not interrupted
// here, only new dispatch stops).
func (s *Scheduler) dequeue(ctx context.Context) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.queue.Len() > 0 {
			return heap.Pop(&s.queue).(*Job)
		}
		if s.remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		s.cond.Wait()
	}
}

// jobHeap is a max-heap over job priority (higher wins), tie-broken by ID
// for deterministic ordering, backing the scheduler's ready queue.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Rule.Priority != h[j].Rule.Priority {
		return h[i].Rule.Priority > h[j].Rule.Priority
	}
	return h[i].ID < h[j].ID
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
