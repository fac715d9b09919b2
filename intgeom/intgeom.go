// Package intgeom resembles github.com/go-spatial/geom but uses int64s internally
// to avoid floating point errors when performing arithmetic with the coords.
//
// Using the last 10 digits as decimals is enough for identifying
// the location of a grain of sand (in degrees).
// More importantly, 10 digits keep the rounding error negligible
// when the span of a base cell is divided into its sub-cells:
// every sub-cell of one base cell gets exactly the same integer width and height.
//
// That leaves 9 digits for the whole units of measurement in your SRS.
// If that unit is degrees, it's more than enough (a circle only has 360).
package intgeom

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	Precision = 10
	Half      = 5000000000
	One       = 10000000000
)

// M is short for measure.
// Used to indicate that a distance or ordinate is saved as an int64 and needs division by Precision (eventually).
type M = int64

// ToGeomOrd turns an ordinate represented as an integer back into a floating point
func ToGeomOrd(o M) float64 {
	if o == 0 {
		return 0.0
	}
	return float64(o) / math.Pow(10, Precision)
}

// FromGeomOrd turns a floating point ordinate into a representation by an integer.
// Rounds to the nearest unit, so 139.7125 does not end up as 1397124999999.
func FromGeomOrd(o float64) M {
	return int64(math.Round(o * math.Pow(10, Precision)))
}

// PrintWithDecimals prints the ordinate with exactly n decimals (truncating, not rounding).
func PrintWithDecimals(o M, n uint) string {
	sign := ""
	if o < 0 {
		sign = "-"
		o = -o
	}
	s := fmt.Sprintf("%0"+strconv.Itoa(Precision+1)+"d", o)
	l := len(s)
	m := s[l-Precision : l]
	if n < Precision {
		m = m[0:n]
	} else {
		m += strings.Repeat("0", int(n-Precision))
	}
	c := s[0 : l-Precision]
	if n == 0 {
		return sign + c
	}
	return sign + c + "." + m
}

// ParseWithDecimals is the inverse of PrintWithDecimals (for n <= Precision).
func ParseWithDecimals(s string) (M, error) {
	neg := strings.HasPrefix(s, "-")
	whole, frac, _ := strings.Cut(strings.TrimPrefix(s, "-"), ".")
	if len(frac) > Precision {
		return 0, fmt.Errorf("more than %d decimals in %q", Precision, s)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse ordinate %q: %w", s, err)
	}
	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac+strings.Repeat("0", Precision-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse ordinate %q: %w", s, err)
		}
	}
	o := w*One + f
	if neg {
		o = -o
	}
	return o, nil
}
