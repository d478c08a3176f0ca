package monitor

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/igresh/refl1d/internal/fit"
	"github.com/igresh/refl1d/internal/reflectivity"
)

// View selects how a reflectivity plot is scaled.
type View string

const (
	ViewLinear  View = "linear"
	ViewLog     View = "log"
	ViewFresnel View = "fresnel" // R divided by the bare-substrate curve
	ViewQ4      View = "q4"      // R times Q^4, flattening the Fresnel decay
)

// ParseView validates a view name.
func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewLinear, ViewLog, ViewFresnel, ViewQ4:
		return View(s), nil
	case "":
		return ViewLog, nil
	default:
		return "", fmt.Errorf("unknown view %q, want linear, log, fresnel, or q4", s)
	}
}

var (
	dataColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	theoryColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// SaveReflectivityPlot writes a PNG of the measured curve and the
// current theory in the requested view.
func SaveReflectivityPlot(path string, problem *fit.Problem, view View) error {
	data := problem.Data
	theory := problem.Theory()
	prof := problem.Stack.Profile(problem.DZ)

	scale := func(q, r float64) float64 { return r }
	yLabel := "R"
	switch view {
	case ViewFresnel:
		yLabel = "R / R_Fresnel"
		rhoAmb := prof.Rho[0]
		rhoSub := prof.Rho[len(prof.Rho)-1]
		scale = func(q, r float64) float64 {
			f := reflectivity.Fresnel(rhoAmb, rhoSub, 0, []float64{q})[0]
			if f <= 0 {
				return 0
			}
			return r / f
		}
	case ViewQ4:
		yLabel = "R Q^4 (1/A^4)"
		scale = func(q, r float64) float64 { return r * q * q * q * q }
	}

	p := plot.New()
	p.Title.Text = data.Name
	p.X.Label.Text = "Q (1/A)"
	p.Y.Label.Text = yLabel
	if view == ViewLog {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	dataPts := make(plotter.XYs, 0, data.Len())
	theoryPts := make(plotter.XYs, 0, data.Len())
	for i := 0; i < data.Len(); i++ {
		dv := scale(data.Q[i], data.R[i])
		tv := scale(data.Q[i], theory[i])
		if view == ViewLog {
			// The log axis cannot hold non-positive points.
			if dv > 0 {
				dataPts = append(dataPts, plotter.XY{X: data.Q[i], Y: dv})
			}
			if tv > 0 {
				theoryPts = append(theoryPts, plotter.XY{X: data.Q[i], Y: tv})
			}
			continue
		}
		dataPts = append(dataPts, plotter.XY{X: data.Q[i], Y: dv})
		theoryPts = append(theoryPts, plotter.XY{X: data.Q[i], Y: tv})
	}

	scatter, err := plotter.NewScatter(dataPts)
	if err != nil {
		return fmt.Errorf("building data series: %w", err)
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	scatter.GlyphStyle.Color = dataColor

	line, err := plotter.NewLine(theoryPts)
	if err != nil {
		return fmt.Errorf("building theory series: %w", err)
	}
	line.LineStyle.Width = vg.Points(1.2)
	line.LineStyle.Color = theoryColor

	p.Add(scatter, line)
	p.Legend.Add("measured", scatter)
	p.Legend.Add("theory", line)
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("saving reflectivity plot: %w", err)
	}
	return nil
}

// SaveProfilePlot writes a PNG of the scattering length density
// against depth, with the ambient medium at depth zero.
func SaveProfilePlot(path string, problem *fit.Problem) error {
	prof := problem.Stack.Profile(problem.DZ)

	// Draw each slab as a step, giving the semi-infinite ends a little
	// visible width.
	endWidth := 20.0
	pts := make(plotter.XYs, 0, 2*len(prof.Rho))
	depth := -endWidth
	for i, rho := range prof.Rho {
		width := endWidth
		if i > 0 && i < len(prof.Rho)-1 {
			width = prof.Thickness[i]
		}
		pts = append(pts, plotter.XY{X: depth, Y: rho}, plotter.XY{X: depth + width, Y: rho})
		depth += width
	}

	p := plot.New()
	p.Title.Text = problem.Stack.Name
	p.X.Label.Text = "Depth (A)"
	p.Y.Label.Text = "rho (1e-6/A^2)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("building profile series: %w", err)
	}
	line.LineStyle.Width = vg.Points(1.2)
	line.LineStyle.Color = dataColor
	p.Add(line)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("saving profile plot: %w", err)
	}
	return nil
}

// SaveConvergencePlot writes a PNG of the recorded trace.
func SaveConvergencePlot(path string, trace []plotter.XY) error {
	if len(trace) == 0 {
		return fmt.Errorf("no trace to plot")
	}
	p := plot.New()
	p.Title.Text = "Convergence"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "-log likelihood"

	positive := true
	for _, pt := range trace {
		if pt.Y <= 0 {
			positive = false
			break
		}
	}
	if positive {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	line, err := plotter.NewLine(plotter.XYs(trace))
	if err != nil {
		return fmt.Errorf("building trace series: %w", err)
	}
	line.LineStyle.Width = vg.Points(1.2)
	line.LineStyle.Color = theoryColor
	p.Add(line)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("saving convergence plot: %w", err)
	}
	return nil
}
