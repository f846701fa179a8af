package intake

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseClassName(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"cs 16", "CMPSC 16"},
		{"CS16", "CMPSC 16"},
		{"cmpsc 16", "CMPSC 16"},
		{"CMPSC16", "CMPSC 16"},
		{"I need help with cs 156 please", "CMPSC 156"},
		{"cmpsc   24", "CMPSC 24"},
		{"cs 130a", "CMPSC 130A"},
		{"CS 64", "CMPSC 64"},
	}

	for _, c := range cases {
		got, ok := ParseClassName(c.input)
		require.True(t, ok, "input=%q", c.input)
		require.Equal(t, c.want, got, "input=%q", c.input)
	}
}

func TestParseClassNameRejectsGarbage(t *testing.T) {
	for _, input := range []string{
		"",
		"math 4a",
		"computer science",
		"CMPSC",
	} {
		_, ok := ParseClassName(input)
		require.False(t, ok, "input=%q", input)
	}
}

func TestParseYesNo(t *testing.T) {
	yes, ok := ParseYesNo("Yes")
	require.True(t, ok)
	require.True(t, yes)

	yes, ok = ParseYesNo("no way")
	require.True(t, ok)
	require.False(t, yes)

	yes, ok = ParseYesNo("yes please")
	require.True(t, ok)
	require.True(t, yes)

	_, ok = ParseYesNo("maybe")
	require.False(t, ok)
}

func TestCollapseWhitespace(t *testing.T) {
	require.Equal(t, "a b c", CollapseWhitespace("a\tb\n\nc"))
	require.Equal(t, "hello world", CollapseWhitespace("  hello   world  "))
	require.Equal(t, "", CollapseWhitespace(" \t\n "))
}
