// Command refl1d fits layered sample models to measured reflectivity
// curves. It runs a differential evolution search, optionally refined
// with Levenberg-Marquardt, and reports the fitted parameters with
// their uncertainties. With -listen it also serves a monitoring API
// while the fit runs.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/plot/plotter"

	"github.com/igresh/refl1d/internal/config"
	"github.com/igresh/refl1d/internal/fit"
	"github.com/igresh/refl1d/internal/model"
	"github.com/igresh/refl1d/internal/monitor"
	"github.com/igresh/refl1d/internal/probe"
	"github.com/igresh/refl1d/internal/store"
	"github.com/igresh/refl1d/internal/version"
)

var (
	modelPath  = flag.String("model", "", "Model file (JSON)")
	dataPath   = flag.String("data", "", "Reflectivity data file (Q R [dR [dQ]])")
	configPath = flag.String("config", "", "Fit defaults file (JSON); explicit flags win")
	engine     = flag.String("engine", "de+lm", "Fit engine: de, lm, or de+lm")
	workers    = flag.Int("workers", 0, "Local evaluation workers (0 = one per CPU, 1 = serial)")
	remotes    = flag.String("remote", "", "Comma-separated worker URLs to distribute evaluations over")

	checkpoint = flag.String("checkpoint", "", "Population checkpoint file (default <model>.checkpoint)")
	resume     = flag.Bool("resume", false, "Resume from the checkpoint if it exists")
	seed       = flag.Int64("seed", 0, "Random seed (0 = from the clock)")
	popSize    = flag.Int("pop", 0, "DE population size (0 = 10x the parameter count)")
	maxGen     = flag.Int("maxgen", 0, "DE generation limit (0 = default)")

	storePath = flag.String("store", "", "SQLite run store (empty = no persistence)")
	listen    = flag.String("listen", "", "Monitor API listen address (empty = batch mode)")

	plotDir = flag.String("plot", "", "Directory for PNG plots (empty = no plots)")
	view    = flag.String("view", "log", "Reflectivity plot view: linear, log, fresnel, or q4")

	qUnits     = flag.String("q-units", "", "Q units of the data file (1/A or 1/nm)")
	cutLow     = flag.Int("cut-low", 0, "Data points to drop from the low-Q end")
	cutHigh    = flag.Int("cut-high", 0, "Data points to drop from the high-Q end")
	drFraction = flag.Float64("dr", 0, "Assumed dR/R for files without an uncertainty column")
	dqFraction = flag.Float64("dq", 0, "Assumed dQ/Q for files without a resolution column")
	dz         = flag.Float64("dz", fit.DefaultDZ, "Microslab width in A for profile layers")
)

func main() {
	flag.Parse()
	if *modelPath == "" || *dataPath == "" {
		flag.Usage()
		log.Fatal("both -model and -data are required")
	}
	cfg := config.EmptyFitConfig()
	if *configPath != "" {
		loaded, err := config.LoadFitConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
		applyConfig(cfg)
	}
	plotView, err := monitor.ParseView(*view)
	if err != nil {
		log.Fatal(err)
	}

	stack, err := model.LoadModel(*modelPath)
	if err != nil {
		log.Fatalf("loading model: %v", err)
	}
	data, err := probe.Load(*dataPath, probe.LoadOptions{
		QUnits:     *qUnits,
		DRFraction: *drFraction,
		DQFraction: *dqFraction,
		CutLow:     *cutLow,
		CutHigh:    *cutHigh,
	})
	if err != nil {
		log.Fatalf("loading data: %v", err)
	}
	problem, err := fit.NewProblem(stack, data, *dz)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("[fit] refl1d %s (%s)", version.Version, version.GitSHA)
	log.Printf("[fit] model %s: %d free parameters, %d data points", stack.Name, problem.Dim(), data.Len())

	var st *store.Store
	if *storePath != "" {
		st, err = store.Open(*storePath)
		if err != nil {
			log.Fatalf("opening run store: %v", err)
		}
		defer st.Close()
	}

	cpPath := *checkpoint
	if cpPath == "" {
		cpPath = strings.TrimSuffix(*modelPath, filepath.Ext(*modelPath)) + ".checkpoint"
	}
	req := monitor.Request{
		Engine:         *engine,
		Workers:        *workers,
		Checkpoint:     cpPath,
		Resume:         *resume,
		Seed:           *seed,
		PopSize:        *popSize,
		MaxGenerations: *maxGen,
		F:              cfg.GetF(),
		CR:             cfg.GetCR(),
		FTol:           cfg.GetFTol(),
	}
	if *remotes != "" {
		for _, base := range strings.Split(*remotes, ",") {
			if base = strings.TrimSpace(base); base != "" {
				req.Remotes = append(req.Remotes, base)
			}
		}
	}

	runner := monitor.NewRunner(problem, st, stack.Name, *dataPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveMonitor(ctx, runner)
		}()
	}

	if err := runner.Start(ctx, req); err != nil {
		log.Fatal(err)
	}
	runner.Wait()
	report(runner, problem)

	if *plotDir != "" {
		if err := savePlots(*plotDir, runner, problem, plotView); err != nil {
			log.Printf("[fit] saving plots: %v", err)
		}
	}

	state := runner.State()
	if *listen != "" && state.Status != monitor.StatusInterrupted {
		// Keep serving the results until a signal arrives.
		log.Printf("[fit] fit finished, monitor still listening on %s", *listen)
		<-ctx.Done()
	}
	stop()
	wg.Wait()

	switch state.Status {
	case monitor.StatusFailed:
		os.Exit(1)
	case monitor.StatusInterrupted:
		log.Printf("[fit] interrupted, resume with -resume -checkpoint %s", cpPath)
	}
}

// applyConfig fills flag defaults from the config file. Flags given on
// the command line keep their values.
func applyConfig(cfg *config.FitConfig) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["engine"] {
		*engine = cfg.GetEngine()
	}
	if !set["workers"] {
		*workers = cfg.GetWorkers()
	}
	if !set["pop"] {
		*popSize = cfg.GetPopSize()
	}
	if !set["maxgen"] {
		*maxGen = cfg.GetMaxGenerations()
	}
	if !set["dz"] {
		*dz = cfg.GetDZ()
	}
	if !set["dr"] {
		*drFraction = cfg.GetDRFraction()
	}
	if !set["dq"] {
		*dqFraction = cfg.GetDQFraction()
	}
	if !set["q-units"] {
		*qUnits = cfg.GetQUnits()
	}
	if !set["view"] {
		*view = cfg.GetView()
	}
}

// serveMonitor runs the monitor API until the context is cancelled.
func serveMonitor(ctx context.Context, runner *monitor.Runner) {
	server := &http.Server{
		Addr:    *listen,
		Handler: monitor.NewWebServer(runner).Routes(),
	}
	go func() {
		log.Printf("[monitor] listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}

// report prints the fit outcome to the log.
func report(runner *monitor.Runner, problem *fit.Problem) {
	state := runner.State()
	switch state.Status {
	case monitor.StatusFailed:
		log.Printf("[fit] failed: %s", state.Error)
		return
	case monitor.StatusInterrupted:
		log.Printf("[fit] interrupted at iteration %d, best %g", state.Iteration, state.Best)
		return
	}

	log.Printf("[fit] done in %d iterations, %d evaluations", state.Iteration, state.Evaluations)
	u, err := fit.EstimateUncertainty(problem, state.X)
	if err != nil {
		log.Printf("[fit] chisq=%.4g (no uncertainty estimate: %v)", state.ChiSq, err)
		for i, name := range state.Names {
			log.Printf("[fit]   %s = %.6g", name, state.X[i])
		}
		return
	}
	for _, line := range strings.Split(strings.TrimRight(u.Report(state.X), "\n"), "\n") {
		log.Printf("[fit] %s", line)
	}
}

// savePlots writes the reflectivity, profile, and convergence PNGs.
func savePlots(dir string, runner *monitor.Runner, problem *fit.Problem, view monitor.View) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := monitor.SaveReflectivityPlot(filepath.Join(dir, "reflectivity.png"), problem, view); err != nil {
		return err
	}
	if err := monitor.SaveProfilePlot(filepath.Join(dir, "profile.png"), problem); err != nil {
		return err
	}
	trace := runner.Trace()
	if len(trace) == 0 {
		return nil
	}
	pts := make([]plotter.XY, len(trace))
	for i, p := range trace {
		pts[i] = plotter.XY{X: float64(p.Iteration), Y: p.Best}
	}
	return monitor.SaveConvergencePlot(filepath.Join(dir, "convergence.png"), pts)
}
