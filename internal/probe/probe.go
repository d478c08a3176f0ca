// Package probe loads measured reflectivity data: momentum transfer Q,
// reflectivity R, measurement uncertainty dR and instrumental resolution
// dQ, from 2 to 4 column text files.
package probe

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/igresh/refl1d/internal/units"
)

// Probe is one measured reflectivity curve. All four slices share a
// length; Q is strictly increasing in 1/A.
type Probe struct {
	Name string
	Q    []float64 // momentum transfer, 1/A
	R    []float64 // reflectivity
	DR   []float64 // 1-sigma uncertainty on R
	DQ   []float64 // 1-sigma Q resolution, 1/A
}

// LoadOptions control parsing and defaulting of probe files.
type LoadOptions struct {
	// QUnits of the file; converted to 1/A internally. Default "1/A".
	QUnits string
	// DRFraction estimates dR as a fraction of R for 2-column files.
	// Default 0.01.
	DRFraction float64
	// DQFraction estimates dQ as a constant dQ/Q resolution for files
	// without a resolution column. Default 0.02.
	DQFraction float64
	// CutLow and CutHigh drop that many points from the start and end
	// of the Q-sorted data, for trimming beamstop spill-over and noise
	// floor regions.
	CutLow, CutHigh int
}

func (o *LoadOptions) applyDefaults() error {
	if o.QUnits == "" {
		o.QUnits = units.InvAngstrom
	}
	if !units.IsValidQ(o.QUnits) {
		return fmt.Errorf("invalid Q units %q, want one of %s", o.QUnits, units.GetValidQUnitsString())
	}
	if o.DRFraction <= 0 {
		o.DRFraction = 0.01
	}
	if o.DQFraction <= 0 {
		o.DQFraction = 0.02
	}
	if o.CutLow < 0 || o.CutHigh < 0 {
		return fmt.Errorf("cut counts must not be negative, got %d and %d", o.CutLow, o.CutHigh)
	}
	return nil
}

// Load reads a probe file. Lines starting with '#' are comments; fields
// are separated by whitespace or commas. Columns are Q, R, [dR, [dQ]].
func Load(path string, opts LoadOptions) (*Probe, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open probe file: %w", err)
	}
	defer f.Close()

	p := &Probe{Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
	scanner := bufio.NewScanner(f)
	lineNum := 0
	columns := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if columns == 0 {
			columns = len(fields)
			if columns < 2 || columns > 4 {
				return nil, fmt.Errorf("%s:%d: want 2-4 columns (Q, R, dR, dQ), got %d", path, lineNum, columns)
			}
		}
		if len(fields) != columns {
			return nil, fmt.Errorf("%s:%d: inconsistent column count %d (file has %d)", path, lineNum, len(fields), columns)
		}

		vals := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid number %q: %w", path, lineNum, field, err)
			}
			vals[i] = v
		}

		p.Q = append(p.Q, units.ConvertQ(vals[0], opts.QUnits))
		p.R = append(p.R, vals[1])
		if columns >= 3 {
			p.DR = append(p.DR, vals[2])
		}
		if columns >= 4 {
			p.DQ = append(p.DQ, units.ConvertQ(vals[3], opts.QUnits))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read probe file: %w", err)
	}
	if len(p.Q) == 0 {
		return nil, fmt.Errorf("%s: no data points", path)
	}

	p.sortByQ()
	for i := 1; i < len(p.Q); i++ {
		if p.Q[i] == p.Q[i-1] {
			return nil, fmt.Errorf("%s: duplicate Q value %g", path, p.Q[i])
		}
	}

	// Fill the missing uncertainty columns from the configured fractions.
	if len(p.DR) == 0 {
		p.DR = make([]float64, len(p.R))
		for i, r := range p.R {
			dr := opts.DRFraction * r
			if dr <= 0 {
				dr = opts.DRFraction
			}
			p.DR[i] = dr
		}
	}
	if len(p.DQ) == 0 {
		p.DQ = make([]float64, len(p.Q))
		for i, q := range p.Q {
			p.DQ[i] = opts.DQFraction * q
		}
	}

	if opts.CutLow+opts.CutHigh >= len(p.Q) {
		return nil, fmt.Errorf("%s: cuts remove all %d points", path, len(p.Q))
	}
	p.crop(opts.CutLow, len(p.Q)-opts.CutHigh)

	return p, nil
}

// Len returns the number of data points.
func (p *Probe) Len() int { return len(p.Q) }

func (p *Probe) sortByQ() {
	idx := make([]int, len(p.Q))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return p.Q[idx[a]] < p.Q[idx[b]] })

	reorder := func(xs []float64) []float64 {
		if len(xs) == 0 {
			return xs
		}
		out := make([]float64, len(xs))
		for i, j := range idx {
			out[i] = xs[j]
		}
		return out
	}
	p.Q = reorder(p.Q)
	p.R = reorder(p.R)
	p.DR = reorder(p.DR)
	p.DQ = reorder(p.DQ)
}

func (p *Probe) crop(lo, hi int) {
	p.Q = p.Q[lo:hi]
	p.R = p.R[lo:hi]
	if len(p.DR) > 0 {
		p.DR = p.DR[lo:hi]
	}
	if len(p.DQ) > 0 {
		p.DQ = p.DQ[lo:hi]
	}
}

// QRange returns the measured Q extent.
func (p *Probe) QRange() (lo, hi float64) {
	if len(p.Q) == 0 {
		return 0, 0
	}
	return p.Q[0], p.Q[len(p.Q)-1]
}
