// Package monitor drives fits and exposes their progress: a runner
// that owns the running engines, a JSON API over HTTP, debug chart
// pages, and PNG plot export.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/igresh/refl1d/internal/fit"
	"github.com/igresh/refl1d/internal/fitwork"
	"github.com/igresh/refl1d/internal/store"
	"github.com/igresh/refl1d/internal/timeutil"
)

// Status of the runner's current or last run.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusComplete    Status = "complete"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Request configures one fit run.
type Request struct {
	// Engine is de, lm, or de+lm (global search then local refine).
	Engine string `json:"engine"`
	// Workers is the local evaluation pool size; 1 evaluates serially,
	// 0 uses one worker per CPU.
	Workers int `json:"workers"`
	// Remotes lists worker base URLs to spread evaluations over.
	Remotes []string `json:"remotes,omitempty"`
	// Checkpoint is the population state file. Resume seeds the run
	// from it when it exists.
	Checkpoint string `json:"checkpoint,omitempty"`
	Resume     bool   `json:"resume,omitempty"`

	Seed           int64 `json:"seed,omitempty"`
	PopSize        int   `json:"pop_size,omitempty"`
	MaxGenerations int   `json:"max_generations,omitempty"`

	// DE tuning; zero values take the engine defaults.
	F    float64 `json:"f,omitempty"`
	CR   float64 `json:"cr,omitempty"`
	FTol float64 `json:"ftol,omitempty"`
}

// State is a snapshot of the runner, shaped for the JSON API.
type State struct {
	Status      Status     `json:"status"`
	RunID       string     `json:"run_id,omitempty"`
	Engine      string     `json:"engine,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Iteration   int     `json:"iteration"`
	Evaluations int     `json:"evaluations"`
	Best        float64 `json:"best"`

	Names       []string  `json:"names,omitempty"`
	X           []float64 `json:"x,omitempty"`
	Stderr      []float64 `json:"stderr,omitempty"`
	ChiSq       float64   `json:"chisq,omitempty"`
	RedChiSq    float64   `json:"reduced_chisq,omitempty"`
	EntropyBits float64   `json:"entropy_bits,omitempty"`

	Error string `json:"error,omitempty"`
}

// Runner owns at most one fit at a time.
type Runner struct {
	problem  *fit.Problem
	store    *store.Store // optional
	model    string
	dataFile string

	clock timeutil.Clock

	mu     sync.RWMutex
	state  State
	trace  []store.TracePoint
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner wraps a problem. st may be nil to run without persistence.
func NewRunner(problem *fit.Problem, st *store.Store, model, dataFile string) *Runner {
	return &Runner{
		problem:  problem,
		store:    st,
		model:    model,
		dataFile: dataFile,
		clock:    timeutil.RealClock{},
		state:    State{Status: StatusIdle},
	}
}

// State returns a copy of the current state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.state
	s.Names = append([]string(nil), r.state.Names...)
	s.X = append([]float64(nil), r.state.X...)
	s.Stderr = append([]float64(nil), r.state.Stderr...)
	return s
}

// Trace returns a copy of the in-memory convergence trace.
func (r *Runner) Trace() []store.TracePoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]store.TracePoint(nil), r.trace...)
}

// Problem returns the wrapped problem. The caller must not evaluate it
// while a run is active.
func (r *Runner) Problem() *fit.Problem { return r.problem }

// Start launches a run in the background. It fails when a run is
// already active or the request is malformed.
func (r *Runner) Start(ctx context.Context, req Request) error {
	if err := validateEngine(req.Engine); err != nil {
		return err
	}
	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return fmt.Errorf("a fit is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	now := r.clock.Now()
	r.state = State{
		Status:    StatusRunning,
		Engine:    req.Engine,
		StartedAt: &now,
		Names:     r.problem.Names(),
		X:         r.problem.Start(),
	}
	r.trace = nil
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.run(runCtx, req)
	}()
	return nil
}

// Stop cancels the active run, if any.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Wait blocks until the current run finishes. It returns immediately
// when nothing is running.
func (r *Runner) Wait() {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func validateEngine(engine string) error {
	switch engine {
	case "de", "lm", "de+lm":
		return nil
	default:
		return fmt.Errorf("unknown engine %q, want de, lm, or de+lm", engine)
	}
}

func (r *Runner) run(ctx context.Context, req Request) {
	var runID string
	if r.store != nil {
		id, err := r.store.CreateRun(r.model, r.dataFile, req.Engine)
		if err != nil {
			log.Printf("[monitor] creating run record: %v", err)
		} else {
			runID = id
			r.mu.Lock()
			r.state.RunID = runID
			r.mu.Unlock()
		}
	}

	res, err := r.execute(ctx, req, runID)
	now := r.clock.Now()

	r.mu.Lock()
	r.state.CompletedAt = &now
	r.cancel = nil
	var status string
	switch {
	case err != nil:
		r.state.Status = StatusFailed
		r.state.Error = err.Error()
		status = store.StatusFailed
	case !res.Converged && strings.HasPrefix(res.Message, "interrupted"):
		r.state.Status = StatusInterrupted
		status = store.StatusInterrupted
	default:
		r.state.Status = StatusComplete
		status = store.StatusComplete
	}
	chisq := r.state.ChiSq
	message := r.state.Error
	if message == "" && res != nil {
		message = res.Message
	}
	r.mu.Unlock()

	if r.store != nil && runID != "" {
		if serr := r.store.FinishRun(runID, status, chisq, message); serr != nil {
			log.Printf("[monitor] finishing run record: %v", serr)
		}
	}
}

// execute runs the requested engines and fills in the terminal state.
func (r *Runner) execute(ctx context.Context, req Request, runID string) (*fit.Result, error) {
	progress := func(p fit.Progress) {
		pt := store.TracePoint{
			Iteration:   p.Iteration,
			Best:        p.Best,
			Mean:        p.Mean,
			Evaluations: p.Evaluations,
		}
		r.mu.Lock()
		r.state.Iteration = p.Iteration
		r.state.Evaluations = p.Evaluations
		r.state.Best = p.Best
		r.state.X = append(r.state.X[:0], p.X...)
		r.trace = append(r.trace, pt)
		r.mu.Unlock()
		if r.store != nil && runID != "" {
			if err := r.store.RecordTrace(runID, pt); err != nil {
				log.Printf("[monitor] recording trace: %v", err)
			}
		}
	}

	var res *fit.Result
	if req.Engine == "de" || req.Engine == "de+lm" {
		evaluator, err := r.buildEvaluator(ctx, req)
		if err != nil {
			return nil, err
		}
		opts := fit.DEOptions{
			Model:          r.model,
			PopSize:        req.PopSize,
			MaxGenerations: req.MaxGenerations,
			F:              req.F,
			CR:             req.CR,
			FTol:           req.FTol,
			Seed:           req.Seed,
			CheckpointPath: req.Checkpoint,
			Progress:       progress,
		}
		if req.Resume && req.Checkpoint != "" {
			cp, err := fit.LoadCheckpoint(req.Checkpoint)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("loading checkpoint: %w", err)
				}
				log.Printf("[monitor] no checkpoint at %s, starting fresh", req.Checkpoint)
			} else {
				opts.Resume = cp
				log.Printf("[monitor] resuming from generation %d (best %g)", cp.Generation, cp.BestValue)
			}
		}
		res, err = fit.NewDE(opts, evaluator).Optimize(ctx, r.problem)
		evaluator.Close()
		if err != nil {
			return nil, err
		}
		r.problem.SetVector(res.X)
		if strings.HasPrefix(res.Message, "interrupted") {
			r.finishPoint(res.X, false)
			return res, nil
		}
	}

	if req.Engine == "lm" || req.Engine == "de+lm" {
		lmRes, err := fit.NewLM(fit.LMOptions{Progress: progress}).Optimize(ctx, r.problem)
		if err != nil {
			return nil, err
		}
		r.problem.SetVector(lmRes.X)
		if res != nil {
			lmRes.Evaluations += res.Evaluations
			lmRes.Iterations += res.Iterations
		}
		res = lmRes
	}

	r.finishPoint(res.X, !strings.HasPrefix(res.Message, "interrupted"))
	return res, nil
}

// finishPoint records the final vector, chi^2, and when the run ended
// cleanly, the covariance based uncertainty.
func (r *Runner) finishPoint(x []float64, estimate bool) {
	chisq := r.problem.Chi2(x)
	dof := r.problem.DOF()

	var u *fit.Uncertainty
	if estimate {
		var err error
		u, err = fit.EstimateUncertainty(r.problem, x)
		if err != nil {
			log.Printf("[monitor] uncertainty estimate unavailable: %v", err)
		}
	}

	r.mu.Lock()
	r.state.X = append(r.state.X[:0], x...)
	r.state.ChiSq = chisq
	if dof > 0 {
		r.state.RedChiSq = chisq / float64(dof)
	}
	if u != nil {
		r.state.Stderr = append([]float64(nil), u.Stderr...)
		r.state.EntropyBits = u.EntropyBits
	}
	runID := r.state.RunID
	names := r.state.Names
	r.mu.Unlock()

	if r.store != nil && runID != "" {
		var stderrs []float64
		if u != nil {
			stderrs = u.Stderr
		}
		if err := r.store.SaveParams(runID, names, x, stderrs); err != nil {
			log.Printf("[monitor] saving params: %v", err)
		}
	}
}

func (r *Runner) buildEvaluator(ctx context.Context, req Request) (fit.Evaluator, error) {
	if len(req.Remotes) == 0 && req.Workers == 1 {
		return &fit.SerialEvaluator{Obj: r.problem}, nil
	}
	local := fitwork.NewLocalPool(r.problem, req.Workers)
	if len(req.Remotes) == 0 {
		return local, nil
	}

	var remotes []*fitwork.RemoteWorker
	for _, base := range req.Remotes {
		worker := fitwork.NewRemoteWorker(base, nil)
		info, err := worker.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("connecting to worker: %w", err)
		}
		if info.Dim != r.problem.Dim() {
			return nil, fmt.Errorf("worker %s serves %d parameters, model has %d",
				worker.URL(), info.Dim, r.problem.Dim())
		}
		remotes = append(remotes, worker)
	}
	return fitwork.NewPool(local, remotes)
}
