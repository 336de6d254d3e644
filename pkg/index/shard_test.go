package index

import "testing"

func TestShardPath(t *testing.T) {
	cases := map[string]string{
		"a":      "1/a",
		"ab":     "2/ab",
		"abc":    "3/a/abc",
		"abcd":   "ab/cd/abcd",
		"serde":  "se/rd/serde",
		"a-b-c":  "a-/b-/a-b-c",
	}
	for name, want := range cases {
		if got := ShardPath(name); got != want {
			t.Errorf("ShardPath(%q) = %q, want %q", name, got, want)
		}
	}
}
