package fitwork

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/igresh/refl1d/internal/httputil"
	"github.com/igresh/refl1d/internal/monitoring"
)

// Wire types for the worker protocol. A worker process loads the same
// model and data as the driver and serves evaluations over HTTP.
type evalRequest struct {
	Points [][]float64 `json:"points"`
}

type evalResponse struct {
	Values []float64 `json:"values"`
}

// WorkerInfo describes a worker's loaded model, used at connect time to
// make sure driver and worker agree on the parameter vector.
type WorkerInfo struct {
	Model string   `json:"model"`
	Dim   int      `json:"dim"`
	Names []string `json:"names"`
}

// RemoteWorker is an HTTP client for one worker process.
type RemoteWorker struct {
	base   string
	client httputil.HTTPClient

	mu     sync.Mutex
	failed int
}

// maxFailures drops a worker from the rotation after this many
// consecutive errors.
const maxFailures = 3

// NewRemoteWorker points a client at a worker base URL such as
// http://host:9317. A nil client gets a standard one with a long
// timeout sized for slow model evaluations.
func NewRemoteWorker(base string, client httputil.HTTPClient) *RemoteWorker {
	if client == nil {
		client = httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Minute})
	}
	return &RemoteWorker{base: strings.TrimRight(base, "/"), client: client}
}

// URL returns the worker base URL.
func (w *RemoteWorker) URL() string { return w.base }

// Info fetches the worker's model description.
func (w *RemoteWorker) Info(ctx context.Context) (*WorkerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.base+"/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", w.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker %s: info returned %s", w.base, resp.Status)
	}
	var info WorkerInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("worker %s: parsing info: %w", w.base, err)
	}
	return &info, nil
}

// Eval sends a chunk of points to the worker.
func (w *RemoteWorker) Eval(ctx context.Context, xs [][]float64) ([]float64, error) {
	body, err := json.Marshal(evalRequest{Points: xs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.base+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, w.fail(fmt.Errorf("worker %s: %w", w.base, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, w.fail(fmt.Errorf("worker %s: %s: %s", w.base, resp.Status, strings.TrimSpace(string(msg))))
	}
	var out evalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, w.fail(fmt.Errorf("worker %s: parsing response: %w", w.base, err))
	}
	if len(out.Values) != len(xs) {
		return nil, w.fail(fmt.Errorf("worker %s: sent %d points, got %d values", w.base, len(xs), len(out.Values)))
	}
	w.mu.Lock()
	w.failed = 0
	w.mu.Unlock()
	return out.Values, nil
}

func (w *RemoteWorker) fail(err error) error {
	w.mu.Lock()
	w.failed++
	w.mu.Unlock()
	return err
}

func (w *RemoteWorker) dead() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed >= maxFailures
}

// Pool dispatches each batch across local goroutines and remote
// workers together. A remote chunk that fails goes back on the queue
// for another worker, so a dying worker degrades the run instead of
// killing it; after repeated failures the worker leaves the rotation.
type Pool struct {
	local   *LocalPool
	remotes []*RemoteWorker
	// ChunkSize is the number of points per remote request.
	ChunkSize int
	logf      func(format string, args ...any)
}

// NewPool combines a local pool with zero or more remote workers. The
// local pool may be nil when every evaluation should go remote, but at
// least one side must be present.
func NewPool(local *LocalPool, remotes []*RemoteWorker) (*Pool, error) {
	if local == nil && len(remotes) == 0 {
		return nil, fmt.Errorf("evaluation pool needs local workers or remote workers")
	}
	return &Pool{
		local:     local,
		remotes:   remotes,
		ChunkSize: 8,
		logf:      monitoring.Logf,
	}, nil
}

type chunk struct {
	start int
	xs    [][]float64
}

// Eval evaluates the batch, preserving input order.
func (p *Pool) Eval(ctx context.Context, xs [][]float64) ([]float64, error) {
	live := p.liveRemotes()
	if len(live) == 0 {
		if p.local == nil {
			return nil, fmt.Errorf("no live workers remain")
		}
		return p.local.Eval(ctx, xs)
	}

	size := p.ChunkSize
	if size <= 0 {
		size = 8
	}
	nChunks := (len(xs) + size - 1) / size
	pending := make(chan chunk, nChunks)
	for start := 0; start < len(xs); start += size {
		end := start + size
		if end > len(xs) {
			end = len(xs)
		}
		pending <- chunk{start: start, xs: xs[start:end]}
	}

	out := make([]float64, len(xs))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		remaining = nChunks
		evalErr   error
	)
	done := make(chan struct{})
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if evalErr == nil {
			evalErr = err
			close(done)
		}
	}
	complete := func(c chunk, values []float64) {
		copy(out[c.start:], values)
		mu.Lock()
		defer mu.Unlock()
		remaining--
		if remaining == 0 && evalErr == nil {
			close(done)
		}
	}

	worker := func(eval func(context.Context, [][]float64) ([]float64, error), requeue bool) {
		defer wg.Done()
		for {
			select {
			case c := <-pending:
				values, err := eval(ctx, c.xs)
				if err != nil {
					if requeue && ctx.Err() == nil {
						p.logf("[fitwork] requeueing %d points: %v", len(c.xs), err)
						pending <- c
						return
					}
					setErr(err)
					return
				}
				complete(c, values)
			case <-done:
				return
			case <-ctx.Done():
				setErr(ctx.Err())
				return
			}
		}
	}

	if p.local != nil {
		for _, obj := range p.local.clones {
			clone := obj
			wg.Add(1)
			go worker(func(ctx context.Context, pts [][]float64) ([]float64, error) {
				values := make([]float64, len(pts))
				for j, x := range pts {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					values[j] = clone.Eval(x)
				}
				return values, nil
			}, false)
		}
	}
	for _, w := range live {
		wg.Add(1)
		go worker(w.Eval, true)
	}

	wg.Wait()
	mu.Lock()
	err := evalErr
	left := remaining
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if left > 0 {
		// Every remote died mid-batch and there were no local workers
		// to pick up the rest.
		return nil, fmt.Errorf("all workers failed with %d chunks unevaluated", left)
	}
	return out, nil
}

func (p *Pool) liveRemotes() []*RemoteWorker {
	var live []*RemoteWorker
	for _, w := range p.remotes {
		if !w.dead() {
			live = append(live, w)
		}
	}
	return live
}

// Close releases the pool.
func (p *Pool) Close() error {
	if p.local != nil {
		return p.local.Close()
	}
	return nil
}
