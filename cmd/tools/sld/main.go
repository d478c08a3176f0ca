// Command sld prints the scattering length density of a chemical
// formula at a given mass density, for both neutron and X-ray probes.
//
// Usage:
//
//	sld -density 2.33 Si
//	sld -density 1.0 "(C2H4)5OH"
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/igresh/refl1d/internal/material"
)

var density = flag.Float64("density", 0, "Mass density in g/cm^3 (required)")

func main() {
	flag.Parse()
	if flag.NArg() != 1 || *density <= 0 {
		fmt.Fprintf(os.Stderr, "usage: %s -density <g/cm^3> <formula>\n", os.Args[0])
		os.Exit(2)
	}
	formulaText := flag.Arg(0)

	formula, err := material.ParseFormula(formulaText)
	if err != nil {
		log.Fatal(err)
	}
	rho, irho := formula.NeutronSLD(*density)
	xrho := formula.XraySLD(*density)

	fmt.Printf("%s at %g g/cm^3 (M = %.4f g/mol)\n", formulaText, *density, formula.Mass())
	fmt.Printf("  neutron: rho = %8.4f  irho = %8.4f  (1e-6/A^2)\n", rho, irho)
	fmt.Printf("  x-ray:   rho = %8.4f                (1e-6/A^2)\n", xrho)
}
