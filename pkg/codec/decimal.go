package codec

import (
	"fmt"
	"regexp"
)

// Decimal is a canonical textual decimal value. Spec §6 forbids floats in
// any equality-bearing (hashed) field; money and other fractional values
// MUST be carried as Decimal instead of a Go float64; Validate defines the
// accepted decimal-string form.
type Decimal string

var decimalPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// Validate checks that d is a syntactically canonical decimal string: an
// optional leading '-', one or more digits, an optional '.' followed by one
// or more digits, no leading zeros other than a bare "0", no trailing zeros
// after the decimal point, and no exponent notation.
func (d Decimal) Validate() error {
	s := string(d)
	if s == "" {
		return fmt.Errorf("codec: empty decimal")
	}
	if !decimalPattern.MatchString(s) {
		return fmt.Errorf("codec: %q is not a canonical decimal string", s)
	}
	neg := s[0] == '-'
	digits := s
	if neg {
		digits = s[1:]
	}
	intPart := digits
	fracPart := ""
	if i := indexByte(digits, '.'); i >= 0 {
		intPart = digits[:i]
		fracPart = digits[i+1:]
	}
	if len(intPart) > 1 && intPart[0] == '0' {
		return fmt.Errorf("codec: %q has a leading zero", s)
	}
	if fracPart != "" && fracPart[len(fracPart)-1] == '0' {
		return fmt.Errorf("codec: %q has a trailing zero fraction digit", s)
	}
	if neg && intPart == "0" && fracPart == "" {
		return fmt.Errorf("codec: %q is negative zero", s)
	}
	return nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
