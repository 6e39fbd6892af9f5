package security

import (
	"strings"
	"testing"
)

func TestMaskCredential(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "****"},
		{"abcd", "****"},
		{"abcdef", "ab**ef"},
		{"PSA1b2C3d4E5f6", "PS**********f6"},
	}
	for _, tt := range tests {
		if got := MaskCredential(tt.in); got != tt.want {
			t.Errorf("MaskCredential(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskSensitive(t *testing.T) {
	in := `auth failed: appkey=PSA1b2C3d4E5f6 secretkey: Zx9y8W7v6U5t4s`
	got := MaskSensitive(in)
	for _, leak := range []string{"PSA1b2C3d4E5f6", "Zx9y8W7v6U5t4s"} {
		if strings.Contains(got, leak) {
			t.Errorf("masked output still contains %q: %s", leak, got)
		}
	}
}
