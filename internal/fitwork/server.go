package fitwork

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/igresh/refl1d/internal/fit"
	"github.com/igresh/refl1d/internal/httputil"
)

// Server is the worker-process side of the evaluation protocol. It
// holds one objective and answers batched evaluation requests from the
// fit driver, spreading each batch over local goroutines.
type Server struct {
	model string
	pool  *LocalPool
	dim   int
	names []string
}

// NewServer wraps an objective for serving. workers follows the
// LocalPool convention of zero meaning one per CPU.
func NewServer(model string, obj fit.Objective, workers int) *Server {
	return &Server{
		model: model,
		pool:  NewLocalPool(obj, workers),
		dim:   obj.Dim(),
		names: obj.Names(),
	}
}

// Routes registers the worker endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("POST /evaluate", s.handleEvaluate)
	return mux
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, WorkerInfo{Model: s.model, Dim: s.dim, Names: s.names})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("parsing request: %v", err))
		return
	}
	if len(req.Points) == 0 {
		httputil.BadRequest(w, "no points in request")
		return
	}
	for i, x := range req.Points {
		if len(x) != s.dim {
			httputil.BadRequest(w, fmt.Sprintf("point %d has %d values, model has %d parameters", i, len(x), s.dim))
			return
		}
	}
	values, err := s.pool.Eval(r.Context(), req.Points)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("evaluating: %v", err))
		return
	}
	httputil.WriteJSONOK(w, evalResponse{Values: values})
}
