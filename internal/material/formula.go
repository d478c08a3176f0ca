package material

import (
	"fmt"
	"strconv"
	"unicode"
)

// Formula is a parsed chemical formula: a flat list of element counts.
// Counts may be fractional, so isotope mixtures like Si0.5Ge0.5 and
// partially deuterated solvents parse directly.
type Formula struct {
	Text  string
	Atoms []AtomCount
}

// AtomCount is one element term in a formula.
type AtomCount struct {
	Element Element
	Count   float64
}

// ParseFormula parses a chemical formula string such as "SiO2", "B4C",
// "D2O" or "(C2H4)1000". Element symbols are one uppercase letter
// optionally followed by one lowercase letter; counts are optional
// decimals defaulting to 1; parenthesised groups take a trailing
// multiplier.
func ParseFormula(s string) (*Formula, error) {
	if s == "" {
		return nil, fmt.Errorf("empty formula")
	}
	counts, rest, err := parseGroup(s, 0)
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", s, err)
	}
	if rest != len(s) {
		return nil, fmt.Errorf("formula %q: unexpected character at position %d", s, rest)
	}

	f := &Formula{Text: s}
	// Preserve first-appearance order while merging repeated symbols.
	index := make(map[string]int)
	for _, ac := range counts {
		if i, ok := index[ac.Element.Symbol]; ok {
			f.Atoms[i].Count += ac.Count
			continue
		}
		index[ac.Element.Symbol] = len(f.Atoms)
		f.Atoms = append(f.Atoms, ac)
	}
	return f, nil
}

// parseGroup parses element terms starting at position i, stopping at a
// closing parenthesis or end of string. Returns the terms and the index
// one past the last consumed character.
func parseGroup(s string, i int) ([]AtomCount, int, error) {
	var out []AtomCount
	for i < len(s) {
		c := s[i]
		switch {
		case c == ')':
			return out, i, nil
		case c == '(':
			inner, j, err := parseGroup(s, i+1)
			if err != nil {
				return nil, 0, err
			}
			if j >= len(s) || s[j] != ')' {
				return nil, 0, fmt.Errorf("unbalanced parenthesis at position %d", i)
			}
			mult, j := parseCount(s, j+1)
			for k := range inner {
				inner[k].Count *= mult
			}
			out = append(out, inner...)
			i = j
		case unicode.IsUpper(rune(c)):
			sym := string(c)
			i++
			if i < len(s) && unicode.IsLower(rune(s[i])) {
				sym += string(s[i])
				i++
			}
			el, ok := LookupElement(sym)
			if !ok {
				return nil, 0, fmt.Errorf("unknown element %q", sym)
			}
			count, j := parseCount(s, i)
			out = append(out, AtomCount{Element: el, Count: count})
			i = j
		default:
			return nil, 0, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return out, i, nil
}

// parseCount reads an optional decimal count at position i, defaulting to 1.
func parseCount(s string, i int) (float64, int) {
	j := i
	for j < len(s) && (unicode.IsDigit(rune(s[j])) || s[j] == '.') {
		j++
	}
	if j == i {
		return 1, i
	}
	v, err := strconv.ParseFloat(s[i:j], 64)
	if err != nil {
		return 1, i
	}
	return v, j
}

// Mass returns the molar mass of the formula unit in g/mol.
func (f *Formula) Mass() float64 {
	var m float64
	for _, ac := range f.Atoms {
		m += ac.Count * ac.Element.Mass
	}
	return m
}

// scattering length density conversion constant: with b in fm, density in
// g/cm3 and mass in g/mol, SLD (1e-6/A^2) = sldScale * density * sum(n*b) / mass.
const sldScale = 0.6022140857 * 10 // N_A * 1e-24 A^3/cm^3 * 1e-5 A/fm * 1e6

// classical electron radius in fm, for the X-ray scattering length Z*rE.
const electronRadius = 2.8179403

// NeutronSLD returns the real and imaginary neutron scattering length
// density (1e-6/A^2) for the formula at the given mass density (g/cm^3).
func (f *Formula) NeutronSLD(density float64) (rho, irho float64) {
	mass := f.Mass()
	if mass == 0 {
		return 0, 0
	}
	var bRe, bIm float64
	for _, ac := range f.Atoms {
		bRe += ac.Count * ac.Element.BCoh
		bIm += ac.Count * ac.Element.BAbs
	}
	scale := sldScale * density / mass
	return scale * bRe, scale * bIm
}

// XraySLD returns the X-ray scattering length density (1e-6/A^2) for the
// formula at the given mass density (g/cm^3), using Z electrons per atom.
func (f *Formula) XraySLD(density float64) float64 {
	mass := f.Mass()
	if mass == 0 {
		return 0
	}
	var b float64
	for _, ac := range f.Atoms {
		b += ac.Count * float64(ac.Element.Z) * electronRadius
	}
	return sldScale * density / mass * b
}
