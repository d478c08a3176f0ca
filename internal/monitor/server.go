package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/igresh/refl1d/internal/httputil"
	"github.com/igresh/refl1d/internal/version"
)

// WebServer exposes the runner over HTTP: a JSON API for status and
// control plus debug chart pages.
type WebServer struct {
	runner *Runner
}

// NewWebServer wraps a runner.
func NewWebServer(runner *Runner) *WebServer {
	return &WebServer{runner: runner}
}

// Routes builds the mux. When the runner has a store its admin routes
// are mounted too.
func (ws *WebServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /api/version", ws.handleVersion)
	mux.HandleFunc("GET /api/status", ws.handleStatus)
	mux.HandleFunc("GET /api/trace", ws.handleTrace)
	mux.HandleFunc("GET /api/params", ws.handleParams)
	mux.HandleFunc("POST /api/fit/start", ws.handleStart)
	mux.HandleFunc("POST /api/fit/stop", ws.handleStop)
	mux.HandleFunc("GET /api/runs", ws.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", ws.handleRun)
	mux.HandleFunc("GET /debug/charts/convergence", ws.handleConvergenceChart)
	mux.HandleFunc("GET /debug/charts/reflectivity", ws.handleReflectivityChart)
	mux.HandleFunc("GET /debug/charts/profile", ws.handleProfileChart)
	if ws.runner.store != nil {
		ws.runner.store.AttachAdminRoutes(mux)
	}
	return mux
}

func (ws *WebServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, ws.runner.State())
}

func (ws *WebServer) handleTrace(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, ws.runner.Trace())
}

// paramInfo pairs a parameter with its current value and bounds for
// the API.
type paramInfo struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Stderr float64 `json:"stderr,omitempty"`
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
}

func (ws *WebServer) handleParams(w http.ResponseWriter, r *http.Request) {
	state := ws.runner.State()
	p := ws.runner.Problem()
	lo, hi := p.Bounds()
	names := p.Names()

	out := make([]paramInfo, len(names))
	for i, name := range names {
		out[i] = paramInfo{Name: name, Low: lo[i], High: hi[i]}
		if i < len(state.X) {
			out[i].Value = state.X[i]
		}
		if i < len(state.Stderr) {
			out[i].Stderr = state.Stderr[i]
		}
	}
	httputil.WriteJSONOK(w, out)
}

func (ws *WebServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("parsing request: %v", err))
		return
	}
	// The run must outlive this request; net/http cancels r.Context()
	// as soon as the handler returns. Stop() covers cancellation.
	if err := ws.runner.Start(context.WithoutCancel(r.Context()), req); err != nil {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteJSONOK(w, ws.runner.State())
}

func (ws *WebServer) handleStop(w http.ResponseWriter, r *http.Request) {
	ws.runner.Stop()
	httputil.WriteJSONOK(w, ws.runner.State())
}

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if ws.runner.store == nil {
		httputil.NotFound(w, "no run store configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.BadRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}
	runs, err := ws.runner.store.Runs(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}

func (ws *WebServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if ws.runner.store == nil {
		httputil.NotFound(w, "no run store configured")
		return
	}
	id := r.PathValue("id")
	run, err := ws.runner.store.GetRun(id)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	params, err := ws.runner.store.Params(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	trace, err := ws.runner.store.Trace(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"run": run, "params": params, "trace": trace})
}
