package preload

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"io"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/internal/engineerr"
	"github.com/sparv-lang/engine/pkg/registry"
)

// Command is one of the small closed set of control messages a client can
// send in place of a job dispatch, mirroring the original implementation's
// INFO/STATUS/STOP/PING string commands (sparv/core/preload.py).
type Command string

const (
	CommandNone   Command = ""       // ordinary job dispatch
	CommandInfo   Command = "info"   // list preloaded processors and their params
	CommandStatus Command = "status" // report per-processor pool occupancy
	CommandStop   Command = "stop"   // drain and shut down
	CommandPing   Command = "ping"
)

// Request is one frame sent by a client: either a control Command, or a job
// dispatch naming the processor and its resolved bindings.
type Request struct {
	Command Command `json:"command,omitempty"`

	// ProcessorID names the preloadable processor to run this job against.
	// Empty for a bare Command request.
	ProcessorID string         `json:"processor_id,omitempty"`
	SourceFile  string         `json:"source_file,omitempty"`
	Bindings    map[string]any `json:"bindings,omitempty"`

	// ForcePreloader, when set, makes the server block for a free warm
	// instance instead of refusing when the processor's pool is exhausted.
	ForcePreloader bool `json:"force_preloader,omitempty"`

	// ConfigFingerprint is the client's hash of the config subtree the
	// preloaded processor depends on. A mismatch against the server's own
	// fingerprint means the warm state was built from stale config and the
	// job must fall back to a cold run.
	ConfigFingerprint string `json:"config_fingerprint,omitempty"`
}

// Response answers one Request.
type Response struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Refused bool           `json:"refused,omitempty"` // pool exhausted, not forced: caller should fall back to a cold run
	Stale   bool           `json:"stale,omitempty"`   // config fingerprint mismatch: caller must fall back
	Info    map[string]any `json:"info,omitempty"`
}

// pool holds one preloadable processor's warm-state instances: a single
// slot when PreloaderDecl.Shared is set, otherwise Workers slots so that
// concurrent jobs against the same processor each get their own copy,
// mirroring the Python implementation's per-worker-process preload but as a
// bounded resource pool of goroutine-safe warm instances instead of OS
// processes.
type pool struct {
	descriptor *registry.Descriptor
	slots      chan any
	size       int

	mu  sync.Mutex
	out int // instances currently checked out, for the status endpoint
}

func newPool(ctx context.Context, d *registry.Descriptor, workers int, params map[string]any) (*pool, error) {
	decl := d.Preloader
	n := workers
	if decl.Shared || n < 1 {
		n = 1
	}
	p := &pool{descriptor: d, slots: make(chan any, n), size: n}
	for i := 0; i < n; i++ {
		state, err := decl.Preload(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("preload: %s: preload hook: %w", d.ID, err)
		}
		p.slots <- state
	}
	return p, nil
}

// acquire returns a warm instance, blocking if force is set and the pool is
// exhausted, or reporting refusal immediately otherwise.
func (p *pool) acquire(ctx context.Context, force bool) (any, bool, error) {
	select {
	case state := <-p.slots:
		p.mu.Lock()
		p.out++
		p.mu.Unlock()
		return state, true, nil
	default:
	}
	if !force {
		return nil, false, nil
	}
	select {
	case state := <-p.slots:
		p.mu.Lock()
		p.out++
		p.mu.Unlock()
		return state, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// release runs the processor's cleanup hook (if any) against the just-used
// state and returns the resulting warm state to the pool.
func (p *pool) release(ctx context.Context, state any, bindings map[string]any) {
	next := state
	if cleanup := p.descriptor.Preloader.Cleanup; cleanup != nil {
		if ns, err := cleanup(ctx, state, bindings); err == nil {
			next = ns
		}
	}
	p.mu.Lock()
	p.out--
	p.mu.Unlock()
	p.slots <- next
}

// drainCleanup runs the processor's cleanup hook, if any, against every warm
// instance currently idle in the pool, with no job bindings. Instances
// checked out to a still-running job are cleaned up as usual when release
// returns them; Stop only accounts for what's already idle once in-flight
// work has drained.
func (p *pool) drainCleanup(ctx context.Context) {
	cleanup := p.descriptor.Preloader.Cleanup
	if cleanup == nil {
		return
	}
	for {
		select {
		case state := <-p.slots:
			_, _ = cleanup(ctx, state, nil)
		default:
			return
		}
	}
}

func (p *pool) occupancy() (busy, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out, p.size
}

// Dispatcher runs one preloaded job to completion against a checked-out warm
// instance. How the warm state reaches descriptor.Run is up to the
// dispatcher; the CLI's default dispatcher passes it inside the job's
// bindings map.
type Dispatcher func(ctx context.Context, d *registry.Descriptor, warm any, sourceFile string, bindings map[string]any) error

// Server is the preloader: a Unix-domain-socket listener that keeps each
// registered preloadable processor's warm state resident and dispatches
// jobs against it, per §4.F.
type Server struct {
	SocketPath        string
	Registry          *registry.Registry
	Config            engineconfig.Tree
	ConfigFingerprint string
	Workers           int
	Logger            *log.Logger
	Dispatch          Dispatcher

	mu       sync.Mutex
	pools    map[string]*pool
	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Server for the processors named in the "preload" config
// section. It validates nothing itself: Serve refuses any name that is not a
// registered processor with a Preloader declaration, matching the original's
// serve()-time validation.
func New(socketPath string, reg *registry.Registry, cfg engineconfig.Tree, dispatch Dispatcher, workers int, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if workers < 1 {
		workers = 1
	}
	return &Server{
		SocketPath: socketPath,
		Registry:   reg,
		Config:     cfg,
		Workers:    workers,
		Logger:     logger,
		Dispatch:   dispatch,
		pools:      map[string]*pool{},
		stopCh:     make(chan struct{}),
	}
}

// Serve starts the listener and preloads every configured processor, then
// accepts connections until ctx is cancelled or Stop is called. It refuses
// to start if the socket path already exists, since a stale socket usually
// means a previous server did not shut down cleanly.
func (s *Server) Serve(ctx context.Context) error {
	if _, err := os.Stat(s.SocketPath); err == nil {
		return fmt.Errorf("%w: socket %s already exists", engineerr.ErrSocketError, s.SocketPath)
	}

	names := s.Config.GetStringSlice("preload")
	for _, name := range names {
		d, ok := s.Registry.ByID(name)
		if !ok || d.Preloader == nil {
			return fmt.Errorf("%w: %s: not a preloadable processor", engineerr.ErrProcessorInvalid, name)
		}
		params := s.preloadParams(*d)
		p, err := newPool(ctx, d, s.Workers, params)
		if err != nil {
			return err
		}
		s.pools[d.ID] = p
		s.Logger.Info("preloaded processor", "processor", name, "shared", d.Preloader.Shared, "instances", p.size)
	}

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("%w: listen: %v", engineerr.ErrSocketError, err)
	}
	s.listener = ln
	defer os.Remove(s.SocketPath)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				s.wg.Wait()
				s.drainCleanup(ctx)
				return nil
			default:
				return fmt.Errorf("%w: accept: %v", engineerr.ErrSocketError, err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Stop signals the accept loop to drain: the listener is closed so no new
// connections are accepted, but connections already being handled are left
// to finish, mirroring the original's stop_event/stop_signal poll loop
// without the two-second polling latency (Go can select on a channel).
func (s *Server) Stop() {
	s.mu.Lock()
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return
	default:
		close(s.stopCh)
	}
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

// drainCleanup runs a final cleanup pass over every preloaded processor's
// warm state once in-flight work has drained, per the shutdown contract:
// drain, final cleanup, then remove the socket file (the last step happens
// via Serve's deferred os.Remove once this returns).
func (s *Server) drainCleanup(ctx context.Context) {
	s.mu.Lock()
	pools := make([]*pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.Unlock()
	for _, p := range pools {
		p.drainCleanup(ctx)
	}
}

func (s *Server) preloadParams(d registry.Descriptor) map[string]any {
	params := map[string]any{}
	for _, key := range d.Preloader.Params {
		if v, ok := s.Config.Get(key, nil); ok {
			params[key] = v
		}
	}
	return params
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			if err != io.EOF {
				s.Logger.Warn("preload: malformed request", "err", err)
			}
			return
		}

		resp := s.handle(ctx, req)
		if err := WriteFrame(conn, resp); err != nil {
			s.Logger.Warn("preload: write response", "err", err)
			return
		}
		if req.Command == CommandStop {
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	switch req.Command {
	case CommandPing:
		return Response{OK: true, Info: map[string]any{"pong": true}}
	case CommandInfo:
		return Response{OK: true, Info: s.info()}
	case CommandStatus:
		return Response{OK: true, Info: s.info()}
	case CommandStop:
		s.Stop()
		return Response{OK: true}
	}

	if req.ConfigFingerprint != "" && s.ConfigFingerprint != "" && req.ConfigFingerprint != s.ConfigFingerprint {
		return Response{OK: false, Stale: true, Error: "preloaded config fingerprint mismatch"}
	}

	p, ok := s.pools[req.ProcessorID]
	if !ok {
		return Response{OK: false, Error: fmt.Sprintf("%s: not preloaded", req.ProcessorID)}
	}

	state, got, err := p.acquire(ctx, req.ForcePreloader)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	if !got {
		return Response{OK: false, Refused: true}
	}
	defer p.release(ctx, state, req.Bindings)

	if s.Dispatch == nil {
		return Response{OK: false, Error: "preload: no dispatcher configured"}
	}
	if err := s.Dispatch(ctx, p.descriptor, state, req.SourceFile, req.Bindings); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}

func (s *Server) info() map[string]any {
	out := map[string]any{}
	for id, p := range s.pools {
		busy, total := p.occupancy()
		out[id] = map[string]any{
			"shared": p.descriptor.Preloader.Shared,
			"busy":   busy,
			"total":  total,
		}
	}
	return out
}
