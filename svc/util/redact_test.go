package util

import (
	"strings"
	"testing"
)

func TestRedactKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "[REDACTED]"},
		{"abcdef", "[REDACTED]"},
		{"0123456789abcdef", "012...[REDACTED]"},
	}
	for _, tt := range tests {
		if got := RedactKey(tt.in); got != tt.want {
			t.Errorf("RedactKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	// Whatever the input, the full key never survives into the output.
	key := "0123456789abcdef"
	if strings.Contains(RedactKey(key), key) {
		t.Fatal("redacted key still contains the full key")
	}
}

func TestRedactIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.42", "192.168.1.0"},
		{"192.168.1.42:9999", "192.168.1.0"},
		{"2001:db8::1", "2001:db8::"},
	}
	for _, tt := range tests {
		if got := RedactIP(tt.in); got != tt.want {
			t.Errorf("RedactIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := RedactIP("not an address"); !strings.HasPrefix(got, "hash:") {
		t.Errorf("RedactIP of unparseable input = %q, want hashed form", got)
	}
}
