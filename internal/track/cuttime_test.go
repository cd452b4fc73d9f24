package track

import (
	"errors"
	"testing"
)

func TestParseCutTime(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"4", 4},
		{"4.5", 4.5},
		{"00:04", 4},
		{"01:30", 90},
		{"00:00:04", 4},
		{"01:02:03.25", 3723.25},
		{" 7 ", 7},
	}
	for _, tt := range tests {
		got, err := ParseCutTime(tt.in)
		if err != nil {
			t.Errorf("ParseCutTime(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCutTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseCutTime_Invalid(t *testing.T) {
	for _, in := range []string{"", "0", "-3", "abc", "1e3", "Inf", "NaN", "1:2:3:4", "00:60", "00:61:00", "1.5:00", ":30"} {
		if _, err := ParseCutTime(in); !errors.Is(err, ErrInvalidCutTime) {
			t.Errorf("ParseCutTime(%q) = %v, want ErrInvalidCutTime", in, err)
		}
	}
}
