// Command refl1d-worker serves reflectivity evaluations to a fit
// driver. It loads the same model and data files as the driver and
// answers batched evaluation requests over HTTP, so a fit can spread
// its population across machines.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/igresh/refl1d/internal/fit"
	"github.com/igresh/refl1d/internal/fitwork"
	"github.com/igresh/refl1d/internal/model"
	"github.com/igresh/refl1d/internal/probe"
	"github.com/igresh/refl1d/internal/version"
)

var (
	modelPath = flag.String("model", "", "Model file (JSON)")
	dataPath  = flag.String("data", "", "Reflectivity data file (Q R [dR [dQ]])")
	listen    = flag.String("listen", ":9317", "Listen address")
	workers   = flag.Int("workers", 0, "Evaluation goroutines (0 = one per CPU)")

	qUnits     = flag.String("q-units", "", "Q units of the data file (1/A or 1/nm)")
	drFraction = flag.Float64("dr", 0, "Assumed dR/R for files without an uncertainty column")
	dqFraction = flag.Float64("dq", 0, "Assumed dQ/Q for files without a resolution column")
	cutLow     = flag.Int("cut-low", 0, "Data points to drop from the low-Q end")
	cutHigh    = flag.Int("cut-high", 0, "Data points to drop from the high-Q end")
	dz         = flag.Float64("dz", fit.DefaultDZ, "Microslab width in A for profile layers")
)

func main() {
	flag.Parse()
	if *modelPath == "" || *dataPath == "" {
		flag.Usage()
		log.Fatal("both -model and -data are required")
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
	log.Printf("[worker] refl1d-worker %s (%s)", version.Version, version.GitSHA)
	log.Printf("[worker] model %s: %d free parameters, %d data points", stack.Name, problem.Dim(), data.Len())

	server := &http.Server{
		Addr:    *listen,
		Handler: fitwork.NewServer(stack.Name, problem, *workers).Routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("[worker] listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
