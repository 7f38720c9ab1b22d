package transform

import "testing"

func TestIsZero(t *testing.T) {
	tests := []struct {
		opts Options
		want bool
	}{
		{Options{}, true},
		{Options{Still: true}, false},
		{Options{Width: 100}, false},
		{Options{Height: 50}, false},
		{Options{Width: 100, Height: 50}, false},
	}
	for _, tt := range tests {
		if got := tt.opts.IsZero(); got != tt.want {
			t.Errorf("IsZero(%+v) = %v, want %v", tt.opts, got, tt.want)
		}
	}
}

func TestString_Canonical(t *testing.T) {
	tests := []struct {
		opts Options
		want string
	}{
		{Options{}, ""},
		{Options{Still: true}, "still"},
		{Options{Width: 200}, "200x0"},
		{Options{Width: 200, Height: 150}, "200x150"},
		{Options{Still: true, Width: 200, Height: 150}, "still,200x150"},
	}
	for _, tt := range tests {
		if got := tt.opts.String(); got != tt.want {
			t.Errorf("String(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}

func TestString_EqualOptionsEqualStrings(t *testing.T) {
	a := Options{Still: true, Width: 10, Height: 20}
	b := Options{Still: true, Width: 10, Height: 20}
	if a.String() != b.String() {
		t.Errorf("equal options produced different strings: %q vs %q", a, b)
	}
}
