package bytesize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"1024", 1024},
		{"4Mi", 4 * MiB},
		{"4MiB", 4 * MiB},
		{"500Ki", 500 * KiB},
		{"100MB", 100 * MB},
		{"1Gi", GiB},
		{"1.5Mi", ByteSize(1.5 * float64(MiB))},
		{"  2 Mi ", 2 * MiB},
		{"0", 0},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "  ", "abc", "10Xi", "-5Mi", "Mi"} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", input)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("4Mi")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if b != 4*MiB {
		t.Errorf("UnmarshalText() = %d, want %d", b, 4*MiB)
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		size ByteSize
		want string
	}{
		{512, "512B"},
		{4 * MiB, "4.00MiB"},
		{2 * GiB, "2.00GiB"},
	}
	for _, tt := range tests {
		if got := tt.size.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", uint64(tt.size), got, tt.want)
		}
	}
}
