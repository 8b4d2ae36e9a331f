package tts_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxturn/pkg/provider/tts"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace", "   ", nil},
		{"single without terminator", "hello there", []string{"hello there"}},
		{"single with terminator", "Hello there.", []string{"Hello there."}},
		{"mixed terminators", "Hi! How are you? Fine.", []string{"Hi!", "How are you?", "Fine."}},
		{"decimal point is not a boundary", "It costs 3.50 today. Ok", []string{"It costs 3.50 today.", "Ok"}},
		{"ellipsis", "Well... maybe", []string{"Well...", "maybe"}},
		{"newline boundary", "Done.\nNext", []string{"Done.", "Next"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tts.SplitSentences(tt.in)
			if !slices.Equal(got, tt.want) {
				t.Errorf("SplitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
