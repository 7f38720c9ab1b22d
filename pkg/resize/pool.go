package resize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixelvault/pixelvault/internal/logger"
	"github.com/pixelvault/pixelvault/pkg/metrics"
	"github.com/pixelvault/pixelvault/pkg/transform"
)

const (
	// DefaultWorkers bounds concurrent resize jobs.
	DefaultWorkers = 4

	// DefaultRecycleAfter is how many jobs a worker handles before it is
	// restarted to contain memory growth in the image engine.
	DefaultRecycleAfter = 250

	// spawnBackoff is the wait before retrying a failed worker start.
	spawnBackoff = time.Second
)

// Config configures the worker pool.
type Config struct {
	// Workers is the number of subprocess workers. Defaults to DefaultWorkers.
	Workers int

	// RecycleAfter is the per-worker job limit before a restart.
	// Defaults to DefaultRecycleAfter.
	RecycleAfter int

	// Command overrides the worker command line. Empty means re-exec the
	// current binary with the resize-worker subcommand. Tests use this.
	Command []string
}

type request struct {
	j    job
	resp chan reply
}

// Pool is a bounded pool of subprocess workers applying image transforms.
// Jobs run out-of-band from the request path: callers block only on their
// own job's completion, never on pool management.
type Pool struct {
	cfg     Config
	metrics *metrics.Metrics

	jobs   chan request
	nextID atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a stopped pool; call Start before submitting jobs.
// Metrics may be nil.
func NewPool(cfg Config, m *metrics.Metrics) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.RecycleAfter <= 0 {
		cfg.RecycleAfter = DefaultRecycleAfter
	}
	return &Pool{
		cfg:     cfg,
		metrics: m,
		jobs:    make(chan request),
	}
}

// Start launches the worker processes. Workers that die are respawned;
// each is recycled after its job limit.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(idx int) {
			defer p.wg.Done()
			p.runWorker(ctx, idx)
		}(i)
	}
	logger.Info("resize pool started",
		"workers", p.cfg.Workers, "recycle_after", p.cfg.RecycleAfter)
}

// Stop terminates all workers and waits for them to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Resize applies opts to the file at path in place and returns the new
// byte length. It blocks until a worker picks up and finishes the job, or
// ctx is cancelled.
func (p *Pool) Resize(ctx context.Context, path string, opts transform.Options) (int64, error) {
	req := request{
		j: job{
			ID:     p.nextID.Add(1),
			Path:   path,
			Still:  opts.Still,
			Width:  opts.Width,
			Height: opts.Height,
		},
		resp: make(chan reply, 1),
	}

	select {
	case p.jobs <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case rep := <-req.resp:
		if rep.Error != "" {
			return 0, fmt.Errorf("resize failed: %s", rep.Error)
		}
		return rep.Length, nil
	case <-ctx.Done():
		// The worker finishes the job anyway; the reply channel is
		// buffered so it won't block on us.
		return 0, ctx.Err()
	}
}

// runWorker owns one worker slot: it keeps a subprocess alive, feeds it
// jobs one at a time, and recycles it after the job limit.
func (p *Pool) runWorker(ctx context.Context, idx int) {
	for ctx.Err() == nil {
		proc, err := p.spawn()
		if err != nil {
			logger.Error("resize worker spawn failed",
				logger.KeyWorker, idx, logger.KeyError, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(spawnBackoff):
			}
			continue
		}

		jobsDone := 0
		healthy := true
		for healthy && jobsDone < p.cfg.RecycleAfter {
			select {
			case <-ctx.Done():
				proc.kill()
				return
			case req := <-p.jobs:
				start := time.Now()
				rep, err := proc.do(req.j)
				if err != nil {
					// The subprocess is unusable; fail this job and respawn.
					req.resp <- reply{ID: req.j.ID, Error: err.Error()}
					p.metrics.RecordResize("error", time.Since(start))
					logger.Warn("resize worker died",
						logger.KeyWorker, idx, logger.KeyError, err)
					proc.kill()
					healthy = false
					continue
				}
				req.resp <- rep
				result := "ok"
				if rep.Error != "" {
					result = "error"
				}
				p.metrics.RecordResize(result, time.Since(start))
				jobsDone++
			}
		}

		if healthy {
			p.metrics.RecordWorkerRecycle()
			logger.Debug("recycling resize worker",
				logger.KeyWorker, idx, logger.KeyJobs, jobsDone)
			proc.stop()
		}
	}
}

// workerProc wraps one running subprocess and its pipes.
type workerProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder
}

func (p *Pool) spawn() (*workerProc, error) {
	argv := p.cfg.Command
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving executable: %w", err)
		}
		argv = []string{exe, "resize-worker"}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting resize worker: %w", err)
	}

	return &workerProc{
		cmd:   cmd,
		stdin: stdin,
		enc:   json.NewEncoder(stdin),
		dec:   json.NewDecoder(stdout),
	}, nil
}

// do runs a single job synchronously on the subprocess.
func (w *workerProc) do(j job) (reply, error) {
	if err := w.enc.Encode(&j); err != nil {
		return reply{}, fmt.Errorf("writing job: %w", err)
	}
	var rep reply
	if err := w.dec.Decode(&rep); err != nil {
		return reply{}, fmt.Errorf("reading reply: %w", err)
	}
	if rep.ID != j.ID {
		return reply{}, fmt.Errorf("reply ID mismatch: sent %d, got %d", j.ID, rep.ID)
	}
	return rep, nil
}

// stop shuts the worker down gracefully: closing stdin makes RunWorker
// return on EOF.
func (w *workerProc) stop() {
	_ = w.stdin.Close()
	_ = w.cmd.Wait()
}

// kill terminates the worker immediately.
func (w *workerProc) kill() {
	_ = w.stdin.Close()
	_ = w.cmd.Process.Kill()
	_ = w.cmd.Wait()
}
