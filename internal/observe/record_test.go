package observe

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var binStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestRecordValidate(t *testing.T) {
	count := 3
	negative := -1

	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"observed with count", NewObserved("atrium", binStart, 3), false},
		{"observed with zero count", NewObserved("atrium", binStart, 0), false},
		{"unobserved without count", NewUnobserved("atrium", binStart), false},
		{"observed without count", Record{Region: "atrium", Start: binStart, Observed: true}, true},
		{"unobserved with count", Record{Region: "atrium", Start: binStart, Count: &count}, true},
		{"negative count", Record{Region: "atrium", Start: binStart, Observed: true, Count: &negative}, true},
		{"empty region", Record{Start: binStart, Observed: true, Count: &count}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrMalformedRecord) {
					t.Errorf("error %v does not wrap ErrMalformedRecord", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCountValue(t *testing.T) {
	if got := NewObserved("atrium", binStart, 7).CountValue(); got != 7 {
		t.Errorf("CountValue() = %d, want 7", got)
	}
	if got := NewUnobserved("atrium", binStart).CountValue(); got != 0 {
		t.Errorf("CountValue() on unobserved = %d, want 0", got)
	}
}

func TestRecordJSONOmitsCountWhenUnobserved(t *testing.T) {
	data, err := json.Marshal(NewUnobserved("atrium", binStart))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["count"]; ok {
		t.Errorf("unobserved record serialised a count: %s", data)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("roundtripped record failed validation: %v", err)
	}
}
