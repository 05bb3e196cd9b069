package bandit

import (
	"errors"
	"math"
	"testing"

	compassErrors "mercator-hq/compass/pkg/errors"
)

func TestClamp_Idempotent(t *testing.T) {
	for _, w := range []float64{-5, 0, 0.01, 0.5, 1, 9.99, 10, 50} {
		once := Clamp(w, 0.01, 10)
		if twice := Clamp(once, 0.01, 10); twice != once {
			t.Errorf("Clamp(Clamp(%v)) = %v, want %v", w, twice, once)
		}
		if once < 0.01 || once > 10 {
			t.Errorf("Clamp(%v) = %v out of bounds", w, once)
		}
	}
}

func TestValidateContext(t *testing.T) {
	if err := ValidateContext("op", Context{"a": 1, "b": -2}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := ValidateContext("op", Context{"a": v})
		if !errors.Is(err, compassErrors.ErrInvalidInput) {
			t.Errorf("ValidateContext(%v) = %v, want invalid input", v, err)
		}
	}
}

func TestValidateObservation(t *testing.T) {
	if err := ValidateObservation("op", 1, 1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateObservation("op", math.NaN(), 1); !errors.Is(err, compassErrors.ErrInvalidInput) {
		t.Errorf("NaN reward should be invalid input, got %v", err)
	}
	if err := ValidateObservation("op", 1, math.Inf(1)); !errors.Is(err, compassErrors.ErrInvalidInput) {
		t.Errorf("infinite weight should be invalid input, got %v", err)
	}
}

func TestLayout_Declared(t *testing.T) {
	l := NewLayout([]string{"bias", "price"}, 0)

	x, err := l.Vector("op", Context{"price": 3, "bias": 1})
	if err != nil {
		t.Fatalf("Vector() error = %v", err)
	}
	if len(x) != 2 || x[0] != 1 || x[1] != 3 {
		t.Errorf("Vector() = %v, want [1 3]", x)
	}

	tests := []struct {
		name string
		ctx  Context
	}{
		{"unknown feature", Context{"color": 1}},
		{"missing feature", Context{"price": 3}},
		{"extra feature", Context{"bias": 1, "price": 3, "color": 1}},
		{"empty", Context{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.Vector("op", tt.ctx); !errors.Is(err, compassErrors.ErrConfiguration) {
				t.Errorf("Vector() error = %v, want configuration", err)
			}
		})
	}
}

func TestLayout_SparseVector(t *testing.T) {
	l := NewLayout([]string{"bias", "price"}, 0)

	x, err := l.SparseVector("op", Context{"price": 3})
	if err != nil {
		t.Fatalf("SparseVector() error = %v", err)
	}
	if len(x) != 2 || x[0] != 0 || x[1] != 3 {
		t.Errorf("SparseVector() = %v, want [0 3]", x)
	}
	if _, err := l.SparseVector("op", Context{"color": 1}); !errors.Is(err, compassErrors.ErrConfiguration) {
		t.Errorf("unknown feature error = %v, want configuration", err)
	}
}

func TestLayout_Inferred(t *testing.T) {
	l := NewLayout(nil, 2)
	if l.Features() != nil {
		t.Fatal("layout should not be fixed yet")
	}

	if _, err := l.Vector("op", Context{"a": 1}); !errors.Is(err, compassErrors.ErrConfiguration) {
		t.Errorf("dimension mismatch should be a configuration error, got %v", err)
	}

	x, err := l.Vector("op", Context{"z": 1, "a": 2})
	if err != nil {
		t.Fatalf("Vector() error = %v", err)
	}
	if x[0] != 2 || x[1] != 1 {
		t.Errorf("expected lexicographic layout, got %v", x)
	}
	if got := l.Features(); len(got) != 2 || got[0] != "a" || got[1] != "z" {
		t.Errorf("Features() = %v", got)
	}

	if err := l.SetFeatures("op", []string{"a", "z"}); err != nil {
		t.Errorf("SetFeatures with same order should succeed: %v", err)
	}
	if err := l.SetFeatures("op", []string{"z", "a"}); !errors.Is(err, compassErrors.ErrConfiguration) {
		t.Errorf("SetFeatures with different order should fail, got %v", err)
	}
}
