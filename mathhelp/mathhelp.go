package mathhelp

import "golang.org/x/exp/constraints"

// EuclidianMod is d mod m with the sign of m, so the result for a positive m is always in [0, m).
func EuclidianMod[T constraints.Signed](d, m T) T {
	r := d % m
	if (r < 0 && m > 0) || (r > 0 && m < 0) {
		return r + m
	}
	return r
}

// NumDigits returns the number of decimal digits of a non-negative n (1 for 0).
func NumDigits[T constraints.Integer](n T) int {
	digits := 1
	for n >= 10 {
		n /= 10
		digits++
	}
	return digits
}
