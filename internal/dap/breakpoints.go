/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
)

// breakpointRecord describes the breakpoints requested for one source file.
type breakpointRecord struct {
	sourcePath string

	// installed holds the 1-based debugger line numbers of the verified breakpoints.
	installed []int
}

// breakpointStore holds the breakpoint records of all source files.
// A setBreakpoints request replaces the record of its source file entirely.
type breakpointStore struct {
	lock    sync.Mutex
	records map[string]*breakpointRecord
	nextID  int
}

func newBreakpointStore() *breakpointStore {
	return &breakpointStore{
		records: make(map[string]*breakpointRecord),
	}
}

// Replace stores the installed lines for sourcePath and returns the previously stored lines.
func (bs *breakpointStore) Replace(sourcePath string, installed []int) []int {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	var previous []int
	if rec, found := bs.records[sourcePath]; found {
		previous = rec.installed
	}

	if len(installed) == 0 {
		delete(bs.records, sourcePath)
	} else {
		bs.records[sourcePath] = &breakpointRecord{
			sourcePath: sourcePath,
			installed:  slices.Clone(installed),
		}
	}

	return previous
}

// All returns a copy of all records, ordered by source path.
func (bs *breakpointStore) All() []breakpointRecord {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	all := make([]breakpointRecord, 0, len(bs.records))
	for _, rec := range bs.records {
		all = append(all, breakpointRecord{
			sourcePath: rec.sourcePath,
			installed:  slices.Clone(rec.installed),
		})
	}
	slices.SortFunc(all, func(a, b breakpointRecord) int {
		return strings.Compare(a.sourcePath, b.sourcePath)
	})
	return all
}

// NextID returns a new breakpoint identifier.
func (bs *breakpointStore) NextID() int {
	bs.lock.Lock()
	defer bs.lock.Unlock()
	bs.nextID++
	return bs.nextID
}

// toZeroBasedLine converts a client line number to a zero-based line index.
func toZeroBasedLine(line int, linesStartAt1 bool) int {
	if linesStartAt1 {
		return line - 1
	}
	return line
}

// verifyBreakpointLines reports, for each requested client line, whether it lies within the source file.
// A line is verified if its zero-based index is not negative and is less than the number of lines in the file.
// If the file cannot be read, no line is verified.
func verifyBreakpointLines(sourcePath string, lines []int, linesStartAt1 bool) ([]bool, error) {
	verified := make([]bool, len(lines))

	lineCount, countErr := countLines(sourcePath)
	if countErr != nil {
		return verified, countErr
	}

	for i, line := range lines {
		index := toZeroBasedLine(line, linesStartAt1)
		verified[i] = index >= 0 && index < lineCount
	}
	return verified, nil
}

// countLines returns the number of lines in a file. A final line without a terminating newline counts as a line.
func countLines(path string) (int, error) {
	if path == "" {
		return 0, errors.New("source path is empty")
	}

	file, openErr := os.Open(path)
	if openErr != nil {
		return 0, fmt.Errorf("could not open source file: %w", openErr)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	count := 0
	pendingLine := false
	for {
		b, readErr := reader.ReadByte()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return 0, fmt.Errorf("could not read source file: %w", readErr)
		}

		if b == '\n' {
			count++
			pendingLine = false
		} else {
			pendingLine = true
		}
	}

	if pendingLine {
		count++
	}
	return count, nil
}

// quoteCommandArgument quotes a debugger command argument if it contains whitespace or quotes.
func quoteCommandArgument(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"'\\") {
		return arg
	}

	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range arg {
		if r == '"' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}

func breakpointSetCommand(sourcePath string, line int) string {
	return fmt.Sprintf("breakpoint set --file %s --line %d", quoteCommandArgument(sourcePath), line)
}

func breakpointClearCommand(sourcePath string, line int) string {
	return fmt.Sprintf("breakpoint clear --file %s --line %d", quoteCommandArgument(sourcePath), line)
}
