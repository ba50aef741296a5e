package vector

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	day := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		typ  FieldType
		want interface{}
	}{
		{"nil", nil, Integer, nil},
		{"int to int64", 42, Integer, int64(42)},
		{"float64 to int64", float64(7), Integer, int64(7)},
		{"dbf integer text", " 18 ", Integer, int64(18)},
		{"blank integer", "   ", Integer, nil},
		{"json number", json.Number("3.5"), Float, 3.5},
		{"int to float", 2, Float, 2.0},
		{"float text", "12.500000000000000", Float, 12.5},
		{"string passthrough", "A", String, "A"},
		{"int as string", int64(5), String, "5"},
		{"dbf date", "20200115", Date, day},
		{"iso date", "2020-01-15", Date, day},
		{"dbf true", "T", Bool, true},
		{"dbf false", "f", Bool, false},
		{"dbf unset", "?", Bool, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in, tt.typ)
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if gt, ok := got.(time.Time); ok {
				if !gt.Equal(tt.want.(time.Time)) {
					t.Errorf("expected %v, got %v", tt.want, gt)
				}
				return
			}
			if got != tt.want {
				t.Errorf("expected %v (%T), got %v (%T)", tt.want, tt.want, got, got)
			}
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		in  interface{}
		typ FieldType
	}{
		{"abc", Integer},
		{"abc", Float},
		{"not a date", Date},
		{"maybe", Bool},
		{true, Integer},
	}

	for _, tt := range tests {
		if _, err := Normalize(tt.in, tt.typ); !errors.Is(err, ErrInvalidData) {
			t.Errorf("Normalize(%v, %s): expected ErrInvalidData, got %v", tt.in, tt.typ, err)
		}
	}
}

func TestInferFieldType(t *testing.T) {
	tests := []struct {
		in   interface{}
		want FieldType
	}{
		{true, Bool},
		{float64(3), Integer},
		{3.25, Float},
		{"x", String},
		{map[string]interface{}{"a": 1}, String},
		{json.Number("12"), Integer},
	}

	for _, tt := range tests {
		if got := inferFieldType(tt.in); got != tt.want {
			t.Errorf("inferFieldType(%v): expected %s, got %s", tt.in, tt.want, got)
		}
	}

	if got := promoteFieldType(Integer, Float); got != Float {
		t.Errorf("Integer+Float: expected float, got %s", got)
	}
	if got := promoteFieldType(Bool, Integer); got != String {
		t.Errorf("Bool+Integer: expected str, got %s", got)
	}
}
