// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Extended is a floating point value with an extended exponent range,
// represented as mantissa * 10^exponent. Zoom factors routinely exceed
// the range of float64 (deep zooms reach 1E600 and beyond), so the zoom
// level is carried in this form throughout the system.
//
// The string form is "mantissa E exponent" without spaces, for example
// "1.5E120". This matches the format used in location files.
type Extended struct {
	Mantissa float64
	Exponent int32
}

// NewExtended returns a reduced Extended for the given mantissa/exponent.
func NewExtended(mantissa float64, exponent int32) Extended {
	e := Extended{Mantissa: mantissa, Exponent: exponent}
	e.Reduce()
	return e
}

// Reduce normalizes the mantissa into [1, 10), adjusting the exponent.
// A zero mantissa reduces to the canonical zero value. Non-finite
// mantissas are left as-is; dividing Inf by 10 never terminates.
func (e *Extended) Reduce() {
	if e.Mantissa == 0 {
		e.Exponent = 0
		return
	}
	if math.IsInf(e.Mantissa, 0) || math.IsNaN(e.Mantissa) {
		return
	}
	for math.Abs(e.Mantissa) >= 10 {
		e.Mantissa /= 10
		e.Exponent++
	}
	for math.Abs(e.Mantissa) < 1 {
		e.Mantissa *= 10
		e.Exponent--
	}
}

// Mul multiplies the value by a plain float factor, reducing afterwards.
func (e Extended) Mul(factor float64) Extended {
	out := Extended{Mantissa: e.Mantissa * factor, Exponent: e.Exponent}
	out.Reduce()
	return out
}

// ToFloat converts to float64. Deep zoom values overflow to +Inf; callers
// that feed this into pixel spacing must clamp.
func (e Extended) ToFloat() float64 {
	return e.Mantissa * math.Pow(10, float64(e.Exponent))
}

// String formats the value as "1.5E120".
func (e Extended) String() string {
	return fmt.Sprintf("%gE%d", e.Mantissa, e.Exponent)
}

// ParseExtended parses the "1.5E120" string form. Plain decimal strings
// without an exponent ("2.0") are accepted with exponent zero. The parse
// is case-insensitive in the exponent marker.
func ParseExtended(s string) (Extended, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return Extended{}, fmt.Errorf("empty zoom string")
	}

	mantissaPart := s
	exponentPart := ""
	if idx := strings.IndexByte(s, 'E'); idx >= 0 {
		mantissaPart = s[:idx]
		exponentPart = s[idx+1:]
	}

	mantissa, err := strconv.ParseFloat(mantissaPart, 64)
	if err != nil {
		return Extended{}, fmt.Errorf("parse zoom mantissa %q: %w", mantissaPart, err)
	}
	if math.IsInf(mantissa, 0) || math.IsNaN(mantissa) {
		return Extended{}, fmt.Errorf("zoom mantissa %q is not finite", mantissaPart)
	}

	var exponent int64
	if exponentPart != "" {
		exponent, err = strconv.ParseInt(exponentPart, 10, 32)
		if err != nil {
			return Extended{}, fmt.Errorf("parse zoom exponent %q: %w", exponentPart, err)
		}
	}

	e := Extended{Mantissa: mantissa, Exponent: int32(exponent)}
	e.Reduce()
	return e, nil
}
