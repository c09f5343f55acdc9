/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.c")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCountLines(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		content  string
		expected int
	}{
		{"empty file", "", 0},
		{"single unterminated line", "a", 1},
		{"single terminated line", "a\n", 1},
		{"unterminated last line", "a\nb", 2},
		{"trailing empty line", "a\n\n", 2},
		{"CRLF line endings", "a\r\nb\r\n", 2},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			count, err := countLines(writeTempFile(t, tc.content))
			require.NoError(t, err)
			require.Equal(t, tc.expected, count)
		})
	}
}

func TestCountLinesFailsForMissingFile(t *testing.T) {
	t.Parallel()

	_, err := countLines(filepath.Join(t.TempDir(), "missing.c"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = countLines("")
	require.Error(t, err)
}

func TestVerifyBreakpointLines(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, "int main() {\n  return 0;\n}\n")

	verified, err := verifyBreakpointLines(path, []int{0, 1, 3, 4}, true)
	require.NoError(t, err)
	require.Equal(t, []bool{false, true, true, false}, verified)

	verified, err = verifyBreakpointLines(path, []int{-1, 0, 2, 3}, false)
	require.NoError(t, err)
	require.Equal(t, []bool{false, true, true, false}, verified)
}

func TestVerifyBreakpointLinesForUnreadableFile(t *testing.T) {
	t.Parallel()

	verified, err := verifyBreakpointLines(filepath.Join(t.TempDir(), "missing.c"), []int{1, 2}, true)
	require.Error(t, err)
	require.Equal(t, []bool{false, false}, verified)
}

func TestBreakpointStoreReplace(t *testing.T) {
	t.Parallel()

	bs := newBreakpointStore()

	previous := bs.Replace("/src/b.c", []int{3, 7})
	require.Empty(t, previous)

	previous = bs.Replace("/src/a.c", []int{1})
	require.Empty(t, previous)

	require.True(t, cmp.Equal([]breakpointRecord{
		{sourcePath: "/src/a.c", installed: []int{1}},
		{sourcePath: "/src/b.c", installed: []int{3, 7}},
	}, bs.All(), cmp.AllowUnexported(breakpointRecord{})))

	previous = bs.Replace("/src/b.c", []int{5})
	require.Equal(t, []int{3, 7}, previous)

	previous = bs.Replace("/src/b.c", nil)
	require.Equal(t, []int{5}, previous)
	require.True(t, cmp.Equal([]breakpointRecord{
		{sourcePath: "/src/a.c", installed: []int{1}},
	}, bs.All(), cmp.AllowUnexported(breakpointRecord{}), cmpopts.EquateEmpty()))
}

func TestBreakpointStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	bs := newBreakpointStore()
	lines := []int{1, 2}
	bs.Replace("/src/a.c", lines)
	lines[0] = 100

	stored := bs.All()
	require.Len(t, stored, 1)
	require.Equal(t, []int{1, 2}, stored[0].installed)
	stored[0].installed[1] = 200
	require.Equal(t, []int{1, 2}, bs.All()[0].installed)

	previous := bs.Replace("/src/a.c", []int{3})
	previous[0] = 300
	require.Equal(t, []int{3}, bs.All()[0].installed)
}

func TestBreakpointStoreIDsAreUnique(t *testing.T) {
	t.Parallel()

	bs := newBreakpointStore()
	first := bs.NextID()
	second := bs.NextID()
	require.Equal(t, 1, first)
	require.Equal(t, 2, second)
}

func TestBreakpointCommands(t *testing.T) {
	t.Parallel()

	require.Equal(t, "breakpoint set --file /src/main.c --line 4", breakpointSetCommand("/src/main.c", 4))
	require.Equal(t, "breakpoint clear --file /src/main.c --line 4", breakpointClearCommand("/src/main.c", 4))
	require.Equal(t, `breakpoint set --file "/my src/main.c" --line 10`, breakpointSetCommand("/my src/main.c", 10))

	require.Equal(t, `""`, quoteCommandArgument(""))
	require.Equal(t, `"say \"hi\".c"`, quoteCommandArgument(`say "hi".c`))
	require.Equal(t, `"C:\\src\\main.c"`, quoteCommandArgument(`C:\src\main.c`))
}
