package activity

import "testing"

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no escapes", "plain text", "plain text"},
		{"color", "\x1b[31mred\x1b[0m", "red"},
		{"bold multi-param", "\x1b[1;32;40mok\x1b[m", "ok"},
		{"cursor movement", "a\x1b[2Ab", "ab"},
		{"erase line", "prompt\x1b[K>", "prompt>"},
		{"csi 8-bit", "a\x9b31mb", "ab"},
		{"osc bel terminated", "\x1b]0;window title\x07body", "body"},
		{"osc st terminated", "\x1b]2;title\x1b\\body", "body"},
		{"osc unterminated swallows rest", "before\x1b]0;title", "before"},
		{"bare escape", "a\x1bZb", "ab"},
		{"trailing escape", "abc\x1b", "abc"},
		{"mixed", "\x1b[2J\x1b[H\x1b[1m$ \x1b[0mls", "$ ls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripANSI(tt.in); got != tt.want {
				t.Errorf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripControlChars(t *testing.T) {
	in := "keep\ttabs\nand\rnewlines\x00drop\x08bells\x07"
	got := stripControlChars(in)
	want := "keep\ttabs\nand\rnewlinesdropbells"
	if got != want {
		t.Errorf("stripControlChars(%q) = %q, want %q", in, got, want)
	}
}
