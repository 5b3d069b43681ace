// Package money provides exact fixed-point parsing, formatting, and
// arithmetic for escrowed amounts.
//
// Amounts are decimal strings with up to 6 fractional digits and are
// represented internally as big.Int minor units (1 unit = 10^-6 of the
// currency). No floating point is ever involved, so a deposit and its
// matching payout always agree to the last digit.
package money

import (
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits carried by every amount.
const Decimals = 6

var unit = big.NewInt(1_000_000)

// Parse converts a decimal string (e.g. "1000", "1.50") to its minor-unit
// big.Int representation. Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string parses as zero
//   - Negative amounts are rejected
//   - More than one decimal point is rejected
//   - More than 6 fractional digits are rejected (no silent rounding)
func Parse(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), true
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return nil, false
	}
	if len(frac) > Decimals {
		return nil, false
	}
	for len(frac) < Decimals {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, false
	}
	return result, true
}

// ParsePositive is Parse restricted to strictly positive amounts.
func ParsePositive(s string) (*big.Int, bool) {
	v, ok := Parse(s)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

// Format converts a minor-unit big.Int to a decimal string with exactly
// 6 fractional digits (e.g. "1000.000000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Equal reports whether two amount strings denote the same value.
// Invalid input is never equal to anything.
func Equal(a, b string) bool {
	av, ok := Parse(a)
	if !ok {
		return false
	}
	bv, ok := Parse(b)
	if !ok {
		return false
	}
	return av.Cmp(bv) == 0
}

// Zero reports whether the amount string denotes zero.
func Zero(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() == 0
}
