package app

import (
	"strconv"
	"strings"

	"bodymonitor/internal/domain"
)

// RegisterIntent is a typed first-time setup request.
type RegisterIntent struct {
	Age    int
	Height int
	Weight float64
}

// AppendWeightIntent is a typed request to record a new sample.
type AppendWeightIntent struct {
	Weight float64
}

// ParseRegisterForm parses raw form values into a RegisterIntent.
func ParseRegisterForm(age, height, weight string) (RegisterIntent, error) {
	a, err := parseInt("age", age)
	if err != nil {
		return RegisterIntent{}, err
	}
	h, err := parseInt("height", height)
	if err != nil {
		return RegisterIntent{}, err
	}
	w, err := parseFloat("weight", weight)
	if err != nil {
		return RegisterIntent{}, err
	}
	intent := RegisterIntent{Age: a, Height: h, Weight: w}
	return intent, intent.Validate()
}

// ParseWeightForm parses a raw form value into an AppendWeightIntent.
func ParseWeightForm(weight string) (AppendWeightIntent, error) {
	w, err := parseFloat("weight", weight)
	if err != nil {
		return AppendWeightIntent{}, err
	}
	intent := AppendWeightIntent{Weight: w}
	return intent, intent.Validate()
}

// Validate applies the range rules of the record store locally.
func (i RegisterIntent) Validate() error {
	return domain.CheckProfile(i.Age, i.Height, i.Weight)
}

// Validate rejects non-positive and non-finite weights.
func (i AppendWeightIntent) Validate() error {
	return domain.CheckWeight(i.Weight)
}

func parseInt(field, raw string) (int, error) {
	s := strings.TrimSpace(raw)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &domain.InvalidInputError{Field: field, Value: raw, Reason: "must be an integer"}
	}
	return n, nil
}

func parseFloat(field, raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &domain.InvalidInputError{Field: field, Value: raw, Reason: "must be a number"}
	}
	return f, nil
}
