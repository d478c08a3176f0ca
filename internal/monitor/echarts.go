package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/igresh/refl1d/internal/httputil"
)

// Debug chart pages rendered with go-echarts. These are debugging-only
// endpoints (no auth) for a quick look at a fit without a client UI.

// handleConvergenceChart renders the best and mean cost per iteration.
func (ws *WebServer) handleConvergenceChart(w http.ResponseWriter, r *http.Request) {
	trace := ws.runner.Trace()
	if len(trace) == 0 {
		httputil.NotFound(w, "no trace recorded yet")
		return
	}

	xs := make([]string, len(trace))
	best := make([]opts.LineData, len(trace))
	mean := make([]opts.LineData, len(trace))
	for i, p := range trace {
		xs[i] = fmt.Sprintf("%d", p.Iteration)
		best[i] = opts.LineData{Value: p.Best}
		mean[i] = opts.LineData{Value: p.Mean}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fit Convergence", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Convergence", Subtitle: fmt.Sprintf("iterations=%d", len(trace))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Iteration"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "-log likelihood", Type: "log"}),
	)
	line.SetXAxis(xs).
		AddSeries("best", best).
		AddSeries("population mean", mean)

	ws.renderChart(w, line)
}

// handleReflectivityChart overlays the measured curve and the current
// theory on a log scale.
func (ws *WebServer) handleReflectivityChart(w http.ResponseWriter, r *http.Request) {
	state := ws.runner.State()
	if state.Status == StatusRunning {
		httputil.WriteJSONError(w, http.StatusConflict, "fit in progress, try again when it finishes")
		return
	}
	p := ws.runner.Problem()
	theory := p.Theory()
	data := p.Data

	xs := make([]string, data.Len())
	measured := make([]opts.LineData, data.Len())
	fitted := make([]opts.LineData, data.Len())
	for i := 0; i < data.Len(); i++ {
		xs[i] = fmt.Sprintf("%.4f", data.Q[i])
		measured[i] = opts.LineData{Value: logOrNil(data.R[i])}
		fitted[i] = opts.LineData{Value: logOrNil(theory[i])}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Reflectivity", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Reflectivity", Subtitle: fmt.Sprintf("%s, chisq=%.4g", data.Name, state.ChiSq)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Q (1/A)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "log10 R"}),
	)
	line.SetXAxis(xs).
		AddSeries("measured", measured).
		AddSeries("theory", fitted)

	ws.renderChart(w, line)
}

// handleProfileChart renders the scattering length density profile.
func (ws *WebServer) handleProfileChart(w http.ResponseWriter, r *http.Request) {
	state := ws.runner.State()
	if state.Status == StatusRunning {
		httputil.WriteJSONError(w, http.StatusConflict, "fit in progress, try again when it finishes")
		return
	}
	p := ws.runner.Problem()
	prof := p.Stack.Profile(p.DZ)

	var xs []string
	var rho []opts.LineData
	depth := 0.0
	for i := range prof.Rho {
		xs = append(xs, fmt.Sprintf("%.1f", depth))
		rho = append(rho, opts.LineData{Value: prof.Rho[i]})
		if i < len(prof.Thickness) {
			depth += prof.Thickness[i]
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "SLD Profile", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "SLD Profile", Subtitle: p.Stack.Name}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Depth (A)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rho (1e-6/A^2)"}),
	)
	line.SetXAxis(xs).AddSeries("rho", rho)

	ws.renderChart(w, line)
}

func (ws *WebServer) renderChart(w http.ResponseWriter, chart interface{ Render(io.Writer) error }) {
	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// logOrNil maps non-positive reflectivities to a missing point so the
// log chart stays drawable.
func logOrNil(v float64) any {
	if v <= 0 {
		return nil
	}
	return math.Log10(v)
}
