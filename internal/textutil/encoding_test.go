package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestToUTF8(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{
			name:  "valid utf8 passthrough",
			input: "Hello, wörld",
			want:  "Hello, wörld",
			ok:    true,
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
			ok:    true,
		},
		{
			// 0x93/0x94 are curly quotes in Windows-1252.
			name:  "windows-1252 smart quotes",
			input: "He said \x93hello\x94 to me",
			want:  "He said “hello” to me",
			ok:    true,
		},
		{
			// 0xE9 is é in Latin-1/Windows-1252.
			name:  "latin-1 accented",
			input: "caf\xe9 au lait",
			want:  "café au lait",
			ok:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToUTF8(tt.input)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ToUTF8(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestToUTF8AlwaysValid(t *testing.T) {
	inputs := []string{
		"\xff\xfe\xfd",
		"partial \xc3 rune",
		strings.Repeat("\x81", 100),
	}
	for _, in := range inputs {
		got, _ := ToUTF8(in)
		if !utf8.ValidString(got) {
			t.Errorf("ToUTF8(%q) produced invalid UTF-8: %q", in, got)
		}
	}
}

func TestSanitize(t *testing.T) {
	got := Sanitize("ok\xffbad")
	if got != "ok�bad" {
		t.Errorf("Sanitize = %q", got)
	}
	if !utf8.ValidString(got) {
		t.Error("Sanitize output not valid UTF-8")
	}
}
