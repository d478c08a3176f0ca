package material

// Element holds the nuclear data needed to compute scattering length
// densities: bound coherent scattering length (fm), atomic mass (g/mol)
// and atomic number for the X-ray cross section.
type Element struct {
	Symbol string
	Mass   float64 // g/mol
	Z      int     // electrons per atom
	BCoh   float64 // bound coherent scattering length, fm
	BAbs   float64 // imaginary scattering length from absorption, fm
}

// elements is the periodic-table subset covering the materials that show
// up in layered thin-film samples. Scattering lengths from the NIST
// neutron scattering length tables.
var elements = map[string]Element{
	"H":  {"H", 1.008, 1, -3.7390, 0},
	"D":  {"D", 2.014, 1, 6.671, 0},
	"Li": {"Li", 6.94, 3, -1.90, 0.062},
	"Be": {"Be", 9.0122, 4, 7.79, 0},
	"B":  {"B", 10.81, 5, 5.30, 0.213},
	"C":  {"C", 12.011, 6, 6.6460, 0},
	"N":  {"N", 14.007, 7, 9.36, 0},
	"O":  {"O", 15.999, 8, 5.803, 0},
	"F":  {"F", 18.998, 9, 5.654, 0},
	"Na": {"Na", 22.990, 11, 3.63, 0},
	"Mg": {"Mg", 24.305, 12, 5.375, 0},
	"Al": {"Al", 26.982, 13, 3.449, 0},
	"Si": {"Si", 28.085, 14, 4.1491, 0},
	"P":  {"P", 30.974, 15, 5.13, 0},
	"S":  {"S", 32.06, 16, 2.847, 0},
	"Cl": {"Cl", 35.45, 17, 9.577, 0},
	"K":  {"K", 39.098, 19, 3.67, 0},
	"Ca": {"Ca", 40.078, 20, 4.70, 0},
	"Ti": {"Ti", 47.867, 22, -3.438, 0},
	"V":  {"V", 50.942, 23, -0.3824, 0},
	"Cr": {"Cr", 51.996, 24, 3.635, 0},
	"Mn": {"Mn", 54.938, 25, -3.73, 0},
	"Fe": {"Fe", 55.845, 26, 9.45, 0},
	"Co": {"Co", 58.933, 27, 2.49, 0},
	"Ni": {"Ni", 58.693, 28, 10.3, 0},
	"Cu": {"Cu", 63.546, 29, 7.718, 0},
	"Zn": {"Zn", 65.38, 30, 5.680, 0},
	"Ge": {"Ge", 72.630, 32, 8.185, 0},
	"Se": {"Se", 78.971, 34, 7.970, 0},
	"Zr": {"Zr", 91.224, 40, 7.16, 0},
	"Nb": {"Nb", 92.906, 41, 7.054, 0},
	"Mo": {"Mo", 95.95, 42, 6.715, 0},
	"Ag": {"Ag", 107.87, 47, 5.922, 0},
	"Cd": {"Cd", 112.41, 48, 4.87, 0.70},
	"Sn": {"Sn", 118.71, 50, 6.225, 0},
	"Ba": {"Ba", 137.33, 56, 5.07, 0},
	"Gd": {"Gd", 157.25, 64, 6.5, 13.82},
	"Ta": {"Ta", 180.95, 73, 6.91, 0},
	"W":  {"W", 183.84, 74, 4.86, 0},
	"Pt": {"Pt", 195.08, 78, 9.60, 0},
	"Au": {"Au", 196.97, 79, 7.63, 0},
	"Pb": {"Pb", 207.2, 82, 9.405, 0},
}

// LookupElement returns the element data for a symbol.
func LookupElement(symbol string) (Element, bool) {
	e, ok := elements[symbol]
	return e, ok
}
