package validation

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "integer", input: "5", want: 500},
		{name: "one decimal place", input: "3.5", want: 350},
		{name: "two decimal places", input: "12.34", want: 1234},
		{name: "smallest amount", input: "0.01", want: 1},
		{name: "zero", input: "0", wantErr: true},
		{name: "zero with decimals", input: "0.00", wantErr: true},
		{name: "negative", input: "-1.50", wantErr: true},
		{name: "three decimal places", input: "1.234", wantErr: true},
		{name: "not a number", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("ParseAmount(%q) error = %v, want ErrInvalidAmount", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("ParseAmount(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsValidQuantity(t *testing.T) {
	if IsValidQuantity(0) || IsValidQuantity(-3) {
		t.Fatalf("non-positive quantity must be invalid")
	}
	if !IsValidQuantity(1) || !IsValidQuantity(100) {
		t.Fatalf("positive quantity must be valid")
	}
}

func TestIsValidBarcode(t *testing.T) {
	if IsValidBarcode(0) || IsValidBarcode(-1) {
		t.Fatalf("non-positive barcode must be invalid")
	}
	if !IsValidBarcode(2990005000008) {
		t.Fatalf("positive barcode must be valid")
	}
}
