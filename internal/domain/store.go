package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrRecordNotFound indicates that no record exists for the account.
	ErrRecordNotFound = errors.New("record not found")
	// ErrAlreadyRegistered indicates that the account already has a record.
	ErrAlreadyRegistered = errors.New("record already registered")
	// ErrAccessDenied indicates that the caller may not write the account.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidRecord indicates a malformed record returned by a store.
	ErrInvalidRecord = errors.New("invalid record")
)

// MaxProfileValue bounds age and height as accepted by record stores.
const MaxProfileValue = 255

// RecordStore is the port for the authoritative record store. Calls may
// block for as long as the transport takes; ctx is the only way to abort one.
type RecordStore interface {
	RecordExists(ctx context.Context, account string) (bool, error)
	FetchRecord(ctx context.Context, account string) (Record, error)
	RegisterRecord(ctx context.Context, account string, age, height int, weight float64) error
	AppendWeight(ctx context.Context, account string, weight float64) error
}

// InvalidInputError reports a form value rejected before reaching a store.
type InvalidInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// CheckProfile applies the store-side rules for a registration.
func CheckProfile(age, height int, weight float64) error {
	if age < 1 || age > MaxProfileValue {
		return &InvalidInputError{Field: "age", Value: fmt.Sprint(age), Reason: "must be within [1, 255]"}
	}
	if height < 1 || height > MaxProfileValue {
		return &InvalidInputError{Field: "height", Value: fmt.Sprint(height), Reason: "must be within [1, 255]"}
	}
	return CheckWeight(weight)
}

// CheckWeight rejects non-finite and non-positive samples.
func CheckWeight(weight float64) error {
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight <= 0 {
		return &InvalidInputError{Field: "weight", Value: fmt.Sprint(weight), Reason: "must be a positive number"}
	}
	return nil
}
