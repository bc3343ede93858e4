package domain

import "fmt"

const kgToLb = 2.2046226218

// Unit is a weight unit.
type Unit string

// Supported weight units. Records are always stored in kilograms.
const (
	UnitKg Unit = "kg"
	UnitLb Unit = "lb"
)

// ParseUnit accepts "kg" or "lb". An empty string yields kg.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case "", UnitKg:
		return UnitKg, nil
	case UnitLb:
		return UnitLb, nil
	}
	return "", fmt.Errorf("unit must be %q or %q", UnitKg, UnitLb)
}

// ConvertWeight converts a weight value between kg and lb.
// Returns v unchanged if from == to or if the units are unrecognised.
func ConvertWeight(v float64, from, to Unit) float64 {
	switch {
	case from == to:
		return v
	case from == UnitKg && to == UnitLb:
		return v * kgToLb
	case from == UnitLb && to == UnitKg:
		return v / kgToLb
	}
	return v
}
