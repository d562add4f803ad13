// Package units implements the closed measurement unit set used by recipes,
// pantry lots and shopping lists, and the conversions defined between them.
package units

import (
	"errors"
	"fmt"
	"strings"

	"family-meal-planner/internal/shared"
)

// Unit is one of the supported measurement units.
type Unit string

const (
	Kilogram   Unit = "kg"
	Gram       Unit = "g"
	Liter      Unit = "l"
	Milliliter Unit = "ml"
	Piece      Unit = "piece"
)

// Class partitions units into groups that convert among themselves.
type Class int

const (
	Weight Class = iota + 1
	Volume
	Count
)

func (c Class) String() string {
	switch c {
	case Weight:
		return "weight"
	case Volume:
		return "volume"
	case Count:
		return "count"
	default:
		return "unknown"
	}
}

type unitInfo struct {
	class Class
	// magnitude relative to the smallest unit of the class
	magnitude float64
}

var table = map[Unit]unitInfo{
	Kilogram:   {Weight, 1000},
	Gram:       {Weight, 1},
	Liter:      {Volume, 1000},
	Milliliter: {Volume, 1},
	Piece:      {Count, 1},
}

// All returns every supported unit in a stable order.
func All() []Unit {
	return []Unit{Kilogram, Gram, Liter, Milliliter, Piece}
}

// Valid reports whether u belongs to the supported set.
func (u Unit) Valid() bool {
	_, ok := table[u]
	return ok
}

// Class returns the unit's class, or 0 for unknown units.
func (u Unit) Class() Class {
	return table[u].class
}

// Parse accepts a unit name case-insensitively, with a few common aliases.
func Parse(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kg":
		return Kilogram, nil
	case "g", "gr":
		return Gram, nil
	case "l":
		return Liter, nil
	case "ml":
		return Milliliter, nil
	case "piece", "pieces", "pc", "pcs":
		return Piece, nil
	}
	return "", shared.Invalid("unsupported unit %q, want one of %v", s, All())
}

// ErrConversionUnsupported is matched by every ConversionError.
var ErrConversionUnsupported = errors.New("conversion unsupported")

// ConversionError names the unit pair that has no defined conversion.
type ConversionError struct {
	From   Unit
	To     Unit
	Reason string
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("cannot convert %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap classifies the error both as an unsupported conversion and as a
// validation failure.
func (e *ConversionError) Unwrap() []error {
	return []error{ErrConversionUnsupported, shared.ErrValidation}
}

// Packaging is the per-product context needed for piece conversions.
type Packaging struct {
	BaseUnit Unit
	// StandardPackaging is the quantity of BaseUnit in one piece; nil when unknown.
	StandardPackaging *float64
}

// Convert expresses quantity q of unit from in unit to.
//
// Weight and volume units convert within their class by table lookup. A
// piece converts to and from the product's base unit only, and only when a
// positive standard packaging is known.
func Convert(q float64, from, to Unit, p Packaging) (float64, error) {
	fi, okFrom := table[from]
	ti, okTo := table[to]
	if !okFrom || !okTo {
		return 0, &ConversionError{From: from, To: to, Reason: "unknown unit"}
	}
	if from == to {
		return q, nil
	}

	if fi.class == ti.class && fi.class != Count {
		return q * fi.magnitude / ti.magnitude, nil
	}

	switch {
	case from == Piece && to == p.BaseUnit:
		pkg, err := packagingSize(from, to, p)
		if err != nil {
			return 0, err
		}
		return q * pkg, nil
	case to == Piece && from == p.BaseUnit:
		pkg, err := packagingSize(from, to, p)
		if err != nil {
			return 0, err
		}
		return q / pkg, nil
	}

	return 0, &ConversionError{From: from, To: to, Reason: fmt.Sprintf("%s and %s are not interchangeable", fi.class, ti.class)}
}

// CanConvert reports whether Convert would succeed for the pair.
func CanConvert(from, to Unit, p Packaging) bool {
	_, err := Convert(1, from, to, p)
	return err == nil
}

func packagingSize(from, to Unit, p Packaging) (float64, error) {
	if p.StandardPackaging == nil || *p.StandardPackaging <= 0 {
		return 0, &ConversionError{From: from, To: to, Reason: "product has no standard packaging"}
	}
	return *p.StandardPackaging, nil
}
