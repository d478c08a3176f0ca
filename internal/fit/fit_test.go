package fit

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igresh/refl1d/internal/material"
	"github.com/igresh/refl1d/internal/model"
	"github.com/igresh/refl1d/internal/probe"
	"github.com/igresh/refl1d/internal/reflectivity"
)

// line fits y = a + b*x to fixed points with unit errors. It is cheap
// and has a known optimum, which makes engine behaviour easy to check.
type line struct {
	xs, ys []float64
	start  []float64
}

func (l *line) Dim() int        { return 2 }
func (l *line) Names() []string { return []string{"a", "b"} }
func (l *line) Bounds() (lo, hi []float64) {
	return []float64{-10, -10}, []float64{10, 10}
}
func (l *line) Start() []float64 { return append([]float64(nil), l.start...) }
func (l *line) RandomPoint(rng *rand.Rand) []float64 {
	return []float64{rng.Float64()*20 - 10, rng.Float64()*20 - 10}
}
func (l *line) Residuals(x []float64) []float64 {
	out := make([]float64, len(l.xs))
	for i := range l.xs {
		out[i] = x[0] + x[1]*l.xs[i] - l.ys[i]
	}
	return out
}
func (l *line) Eval(x []float64) float64 {
	var sum float64
	for _, r := range l.Residuals(x) {
		sum += r * r
	}
	return sum / 2
}
func (l *line) Clone() Objective {
	return &line{xs: l.xs, ys: l.ys, start: l.start}
}

func exactLine(a, b float64) *line {
	xs := []float64{-2, -1, 0, 1, 2, 3}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = a + b*x
	}
	return &line{xs: xs, ys: ys, start: []float64{0, 0}}
}

func TestDERecoversLine(t *testing.T) {
	obj := exactLine(1.5, -2)
	var bests []float64
	de := NewDE(DEOptions{
		PopSize: 20, MaxGenerations: 400, FTol: 1e-12, Seed: 1,
		Progress: func(p Progress) { bests = append(bests, p.Best) },
	}, nil)

	res, err := de.Optimize(context.Background(), obj)
	require.NoError(t, err)
	assert.True(t, res.Converged, "message: %s", res.Message)
	assert.InDelta(t, 1.5, res.X[0], 1e-3)
	assert.InDelta(t, -2.0, res.X[1], 1e-3)
	assert.Greater(t, res.Evaluations, 20)

	for i := 1; i < len(bests); i++ {
		assert.LessOrEqual(t, bests[i], bests[i-1], "best must not regress at generation %d", i)
	}
}

func TestDEInterrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fit.checkpoint")
	ctx, cancel := context.WithCancel(context.Background())
	de := NewDE(DEOptions{
		Model:   "line",
		PopSize: 20, MaxGenerations: 1000, Seed: 2,
		CheckpointPath: path,
		Progress: func(p Progress) {
			if p.Iteration == 3 {
				cancel()
			}
		},
	}, nil)

	res, err := de.Optimize(ctx, exactLine(1, 1))
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Contains(t, res.Message, "interrupted")
	assert.NotEmpty(t, res.X)

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Generation)
	assert.Equal(t, "line", cp.Model)
	assert.Equal(t, []string{"a", "b"}, cp.Names)
}

func TestDEResume(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fit.checkpoint")
	obj := exactLine(2, 0.5)

	first := NewDE(DEOptions{
		Model:   "line",
		PopSize: 20, MaxGenerations: 5, Seed: 3,
		CheckpointPath: path, CheckpointEvery: 1,
	}, nil)
	res1, err := first.Optimize(context.Background(), obj)
	require.NoError(t, err)
	require.False(t, res1.Converged)

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	require.Equal(t, 5, cp.Generation)

	other := NewDE(DEOptions{Model: "parabola", MaxGenerations: 10, Seed: 4, Resume: cp}, nil)
	_, err = other.Optimize(context.Background(), obj)
	require.Error(t, err, "resume under a different model name")

	second := NewDE(DEOptions{
		Model:          "line",
		MaxGenerations: 400, FTol: 1e-12, Seed: 4, Resume: cp,
	}, nil)
	res2, err := second.Optimize(context.Background(), obj)
	require.NoError(t, err)
	assert.True(t, res2.Converged)
	assert.LessOrEqual(t, res2.Value, res1.Value)
	assert.Greater(t, res2.Iterations, 5, "resumed run continues the generation count")
	assert.InDelta(t, 2.0, res2.X[0], 1e-3)
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "line.checkpoint")
	saved := &Checkpoint{
		Engine:     "de",
		Model:      "line",
		Names:      []string{"a", "b"},
		Generation: 7,
		Best:       []float64{1.5, 2.0},
		BestValue:  0.25,
		Population: [][]float64{{1.5, 2.0}, {1.4, 2.1}},
		Values:     []float64{0.25, 0.5},
		Seed:       42,
	}
	require.NoError(t, SaveCheckpoint(path, saved))

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(saved, loaded))
}

func TestCheckpointResumeRejectsOtherModel(t *testing.T) {
	cp := &Checkpoint{Model: "line", Names: []string{"a", "b"}, Population: [][]float64{{0, 0}}, Values: []float64{1}}
	require.Error(t, cp.Compatible("line", []string{"a"}))
	require.Error(t, cp.Compatible("line", []string{"a", "c"}))
	require.Error(t, cp.Compatible("parabola", []string{"a", "b"}))
	require.NoError(t, cp.Compatible("line", []string{"a", "b"}))
	// Unlabelled checkpoints skip the model check.
	require.NoError(t, cp.Compatible("", []string{"a", "b"}))
}

func TestLMExactLine(t *testing.T) {
	obj := exactLine(3, -0.25)
	lm := NewLM(LMOptions{})
	res, err := lm.Optimize(context.Background(), obj)
	require.NoError(t, err)
	assert.True(t, res.Converged, "message: %s", res.Message)
	assert.InDelta(t, 3.0, res.X[0], 1e-6)
	assert.InDelta(t, -0.25, res.X[1], 1e-6)
	assert.Less(t, res.Value, 1e-10)
}

func TestLMRequiresResiduals(t *testing.T) {
	lm := NewLM(LMOptions{})
	_, err := lm.Optimize(context.Background(), nonLSQ{})
	require.Error(t, err)
}

type nonLSQ struct{}

func (nonLSQ) Dim() int                           { return 1 }
func (nonLSQ) Names() []string                    { return []string{"x"} }
func (nonLSQ) Bounds() (lo, hi []float64)         { return []float64{0}, []float64{1} }
func (nonLSQ) Start() []float64                   { return []float64{0.5} }
func (nonLSQ) RandomPoint(r *rand.Rand) []float64 { return []float64{r.Float64()} }
func (nonLSQ) Eval(x []float64) float64           { return x[0] * x[0] }
func (nonLSQ) Clone() Objective                   { return nonLSQ{} }

func TestUncertaintyMatchesAnalytic(t *testing.T) {
	// A line with fixed residuals: the covariance of the least squares
	// estimate is (X'X)^-1 scaled by the reduced chi^2.
	xs := []float64{0, 1, 2, 3, 4, 5}
	noise := []float64{0.1, -0.2, 0.15, -0.05, 0.1, -0.1}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 1 + 0.5*x + noise[i]
	}
	obj := &line{xs: xs, ys: ys, start: []float64{0, 0}}

	lm := NewLM(LMOptions{})
	res, err := lm.Optimize(context.Background(), obj)
	require.NoError(t, err)

	u, err := EstimateUncertainty(obj, res.X)
	require.NoError(t, err)

	// X'X for the design matrix [1 x].
	n := float64(len(xs))
	var sx, sxx float64
	for _, x := range xs {
		sx += x
		sxx += x * x
	}
	det := n*sxx - sx*sx
	red := u.ChiSq / float64(len(xs)-2)
	wantA := math.Sqrt(sxx / det * red)
	wantB := math.Sqrt(n / det * red)

	assert.Equal(t, 4, u.DOF)
	assert.InDelta(t, wantA, u.Stderr[0], 1e-6)
	assert.InDelta(t, wantB, u.Stderr[1], 1e-6)
	assert.InDelta(t, 1.0, u.Corr.At(0, 0), 1e-9)
	assert.InDelta(t, u.Corr.At(0, 1), u.Corr.At(1, 0), 1e-12)
	assert.Negative(t, u.Corr.At(0, 1), "slope and intercept anticorrelate")
	assert.False(t, math.IsNaN(u.EntropyBits))

	report := u.Report(res.X)
	assert.Contains(t, report, "a")
	assert.Contains(t, report, "+/-")
}

func TestUncertaintyNeedsFreedom(t *testing.T) {
	obj := &line{xs: []float64{0, 1}, ys: []float64{1, 2}, start: []float64{0, 0}}
	_, err := EstimateUncertainty(obj, []float64{1, 1})
	require.Error(t, err)
}

// nickelProblem builds a one-film model with known true values and a
// synthetic curve measured from them.
func nickelProblem(t *testing.T, trueThickness, trueRho float64) *Problem {
	t.Helper()
	si, err := material.NewCompound("Si", 2.33, material.Neutron)
	require.NoError(t, err)

	film := model.NewSlab("nickel", material.SLD{Label: "nickel", Rho: trueRho}, trueThickness, 3)
	stack := &model.Stack{Name: "ni-on-si", Layers: []model.Layer{
		model.NewSlab("air", material.Vacuum, 0, 0),
		film,
		model.NewSlab("silicon", si, 0, 2),
	}}

	var q []float64
	for v := 0.01; v <= 0.3; v += 0.005 {
		q = append(q, v)
	}
	// Measure the true curve before perturbing the start point.
	r := reflectivity.Compute(stack.Profile(0.5), q)
	dr := make([]float64, len(q))
	for i := range r {
		dr[i] = 0.01 * r[i]
	}
	data := &probe.Probe{Name: "synthetic", Q: q, R: r, DR: dr, DQ: make([]float64, len(q))}

	film.Thickness.Range(80, 120)
	film.Rho.Range(7, 12)
	film.Thickness.SetValue(90)
	film.Rho.SetValue(8)

	p, err := NewProblem(stack, data, 0)
	require.NoError(t, err)
	return p
}

func TestFitRecoversNickelFilm(t *testing.T) {
	p := nickelProblem(t, 100, 9.4)

	de := NewDE(DEOptions{PopSize: 20, MaxGenerations: 200, FTol: 1e-10, Seed: 7}, nil)
	rough, err := de.Optimize(context.Background(), p)
	require.NoError(t, err)

	p.SetVector(rough.X)
	lm := NewLM(LMOptions{})
	res, err := lm.Optimize(context.Background(), p)
	require.NoError(t, err)

	assert.InDelta(t, 100, res.X[0], 0.5, "thickness")
	assert.InDelta(t, 9.4, res.X[1], 0.1, "rho")
	assert.Less(t, p.Chi2(res.X), 1e-3)
}

func TestProblemEvalAddsBoundsPenalty(t *testing.T) {
	p := nickelProblem(t, 100, 9.4)
	lo, _ := p.Bounds()
	out := append([]float64(nil), p.Start()...)
	out[0] = lo[0] - 1
	assert.True(t, math.IsInf(p.Eval(out), 1), "outside hard bounds the cost is infinite")
}

func TestProblemCloneIsIndependent(t *testing.T) {
	p := nickelProblem(t, 100, 9.4)
	c := p.Clone().(*Problem)

	x := p.Start()
	y := append([]float64(nil), x...)
	y[0] += 5

	v1 := p.Eval(x)
	v2 := c.Eval(y)
	assert.NotEqual(t, v1, v2)
	// The original still sees its own vector.
	assert.InDelta(t, x[0], p.Start()[0], 1e-12)
	assert.Equal(t, p.Names(), c.Names())
}

func TestProblemRejectsFixedModel(t *testing.T) {
	stack := &model.Stack{Name: "fixed", Layers: []model.Layer{
		model.NewSlab("air", material.Vacuum, 0, 0),
		model.NewSlab("silicon", material.SLD{Label: "si", Rho: 2.07}, 0, 2),
	}}
	data := &probe.Probe{Q: []float64{0.1}, R: []float64{1}, DR: []float64{1}, DQ: []float64{0}}
	_, err := NewProblem(stack, data, 0)
	require.Error(t, err)
}
