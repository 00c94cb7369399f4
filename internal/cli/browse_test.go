package cli

import (
	"bufio"
	"strings"
	"testing"
)

func TestConfirmedReadsThroughScanner(t *testing.T) {
	// The command line and the answer arrive through the same reader,
	// as with piped input. The answer must come from the same scanner
	// the loop reads commands with, or the buffered line is lost.
	cases := []struct {
		name  string
		input string
		want  bool
	}{
		{"short yes", "rm a.txt\ny\n", true},
		{"word yes", "rm a.txt\nYES\n", true},
		{"padded yes", "rm a.txt\n  y  \n", true},
		{"no", "rm a.txt\nn\n", false},
		{"empty answer", "rm a.txt\n\n", false},
		{"eof", "rm a.txt\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tc.input))
			if !scanner.Scan() {
				t.Fatal("missing command line")
			}
			if got := confirmed(scanner); got != tc.want {
				t.Errorf("confirmed = %v, want %v", got, tc.want)
			}
		})
	}
}
