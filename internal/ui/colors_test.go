package ui

import "testing"

func TestRate(t *testing.T) {
	tests := []struct {
		ok, total int
		want      string
	}{
		{ok: 9, total: 10, want: Success("90%")},
		{ok: 5, total: 10, want: Warn("50%")},
		{ok: 1, total: 10, want: Error("10%")},
		{ok: 0, total: 0, want: Dim("n/a")},
	}
	for _, tt := range tests {
		if got := Rate(tt.ok, tt.total); got != tt.want {
			t.Errorf("Rate(%d, %d) = %q, want %q", tt.ok, tt.total, got, tt.want)
		}
	}
}
