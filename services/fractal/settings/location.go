// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package settings

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Location is a TOML location/palette file. Real, imag and zoom are quoted
// decimal strings to preserve arbitrary precision. All fields are optional
// so a file can carry only a palette, or only coordinates; pointer fields
// distinguish "absent" from zero.
type Location struct {
	Real       *string  `toml:"real,omitempty"`
	Imag       *string  `toml:"imag,omitempty"`
	Zoom       *string  `toml:"zoom,omitempty"`
	Iterations *int64   `toml:"iterations,omitempty"`
	Rotate     *float64 `toml:"rotate,omitempty"`

	// Palette is a flat list of color components in BGR order, three
	// per entry.
	Palette           []int64  `toml:"palette,omitempty"`
	IterationDivision *float64 `toml:"iteration_division,omitempty"`
	PaletteOffset     *float64 `toml:"palette_offset,omitempty"`
}

// HasLocation reports whether the file carries any coordinate fields; a
// palette-only file triggers a recolor, not a re-render.
func (l Location) HasLocation() bool {
	return l.Real != nil || l.Imag != nil || l.Zoom != nil ||
		l.Iterations != nil || l.Rotate != nil
}

// PaletteColors converts the flat BGR list into RGB triples. Trailing
// components that do not fill a triple are ignored.
func (l Location) PaletteColors() [][3]uint8 {
	if len(l.Palette) < 3 {
		return nil
	}
	out := make([][3]uint8, 0, len(l.Palette)/3)
	for i := 0; i+2 < len(l.Palette); i += 3 {
		out = append(out, [3]uint8{
			uint8(l.Palette[i+2]),
			uint8(l.Palette[i+1]),
			uint8(l.Palette[i]),
		})
	}
	return out
}

// ApplyTo merges the present fields into a settings snapshot, mirroring
// the partial-merge behavior of opening a location file: missing rotation
// resets to zero when coordinates are present, missing palette leaves the
// current one alone.
func (l Location) ApplyTo(v *Values) {
	if l.Real != nil {
		v.Real = *l.Real
	}
	if l.Imag != nil {
		v.Imag = *l.Imag
	}
	if l.Zoom != nil {
		v.Zoom = *l.Zoom
	}
	if l.Iterations != nil {
		v.Iterations = uint64(*l.Iterations)
	}
	if l.Rotate != nil {
		v.Rotate = *l.Rotate
	} else if l.HasLocation() {
		v.Rotate = 0
	}

	if palette := l.PaletteColors(); palette != nil {
		v.Palette = palette
		if l.IterationDivision != nil {
			v.IterationDivision = *l.IterationDivision
		} else {
			v.IterationDivision = 1.0
		}
		if l.PaletteOffset != nil {
			v.PaletteOffset = *l.PaletteOffset
		} else {
			v.PaletteOffset = 0
		}
	}
}

// LoadLocation reads and parses a TOML location file.
func LoadLocation(path string) (Location, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Location{}, fmt.Errorf("read location file: %w", err)
	}
	var loc Location
	if err := toml.Unmarshal(raw, &loc); err != nil {
		return Location{}, fmt.Errorf("%w: parse location file %s: %v", ErrConfig, path, err)
	}
	return loc, nil
}

// SaveLocation writes the current coordinates as a TOML location file.
// Only the coordinate fields are written; palettes are distributed as
// separate files.
func SaveLocation(path string, v Values) error {
	iterations := int64(v.Iterations)
	rotate := v.Rotate
	loc := Location{
		Real:       &v.Real,
		Imag:       &v.Imag,
		Zoom:       &v.Zoom,
		Iterations: &iterations,
		Rotate:     &rotate,
	}

	raw, err := toml.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location file: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write location file: %w", err)
	}
	return nil
}
