/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package lldb

import (
	"os"
	"path/filepath"
)

const (
	// DefaultToolName is the name of the debugger executable looked up on the search path.
	DefaultToolName = "lldb"

	// SearchPathEnvVar is the environment variable holding the directory search list.
	SearchPathEnvVar = "PATH"
)

// ToolHandle identifies the located executable for a named external tool.
// It is resolved once at adapter startup and never changes afterwards.
type ToolHandle struct {
	// Name is the executable name that was searched for.
	Name string

	// ResolvedPath is the path of the first match, or empty if the tool was not found.
	ResolvedPath string
}

// Found reports whether the tool was located.
func (h ToolHandle) Found() bool {
	return h.ResolvedPath != ""
}

// LocateTool searches the directories of searchPath (separated by the OS path list separator), in order,
// and returns a handle for the first directory that contains an entry named name that is not a directory.
// There is no check that the file is executable. If nothing matches, the returned handle is not Found().
func LocateTool(name string, searchPath string) ToolHandle {
	handle := ToolHandle{Name: name}
	if name == "" {
		return handle
	}

	for _, dir := range filepath.SplitList(searchPath) {
		if dir == "" {
			continue
		}

		candidate := filepath.Join(dir, name)
		info, statErr := os.Stat(candidate)
		if statErr != nil || info.IsDir() {
			continue
		}

		if abs, absErr := filepath.Abs(candidate); absErr == nil {
			candidate = abs
		}
		handle.ResolvedPath = candidate
		return handle
	}

	return handle
}

// LocateToolFromEnv is LocateTool using the PATH environment variable of the current process.
func LocateToolFromEnv(name string) ToolHandle {
	return LocateTool(name, os.Getenv(SearchPathEnvVar))
}
