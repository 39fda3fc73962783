package ui

import (
	"testing"
	"time"

	"relaywatch/internal/conntrack"
)

func TestHeader(t *testing.T) {
	var v conntrack.View
	if got := header(v); got != "Connections:" {
		t.Fatalf("header = %q", got)
	}

	v.Counts[conntrack.Inbound] = 2
	v.Counts[conntrack.Outbound] = 1
	if got := header(v); got != "Connections (2 inbound, 1 outbound):" {
		t.Fatalf("header = %q", got)
	}

	v.Paused = true
	if got := header(v); got != "Connections (2 inbound, 1 outbound) [paused]:" {
		t.Fatalf("header = %q", got)
	}
}

func TestTimeLabel(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m"},
		{2 * time.Hour, "2h"},
		{49 * time.Hour, "2d"},
		{-time.Second, "0s"},
	}
	for _, tc := range tests {
		if got := timeLabel(tc.d); got != tc.want {
			t.Errorf("timeLabel(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s    string
		w    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"a longer line of text", 10, "a longe..."},
		{"abcdef", 2, "ab"},
		{"abcdef", 0, "abcdef"},
	}
	for _, tc := range tests {
		if got := truncate(tc.s, tc.w); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.s, tc.w, got, tc.want)
		}
	}
}
