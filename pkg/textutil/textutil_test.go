package textutil

import "testing"

func TestTruncateDisplay(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxWidth int
		suffix   string
		want     string
	}{
		{"short passes through", "hello", 10, "...", "hello"},
		{"exact width passes through", "hello", 5, "...", "hello"},
		{"ascii truncated", "hello world", 5, "...", "hello..."},
		{"wide runes count double", "東京大学", 4, "…", "東京…"},
		{"wide rune never split", "ab東", 3, "", "ab"},
		{"empty input", "", 5, "...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateDisplay(tt.in, tt.maxWidth, tt.suffix)
			if got != tt.want {
				t.Errorf("TruncateDisplay(%q, %d) = %q, want %q", tt.in, tt.maxWidth, got, tt.want)
			}
		})
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  a  b ", "a b"},
		{"a\t\nb", "a b"},
		{"", ""},
		{"single", "single"},
	}

	for _, tt := range tests {
		if got := NormalizeWhitespace(tt.in); got != tt.want {
			t.Errorf("NormalizeWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
