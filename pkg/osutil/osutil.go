/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package osutil

import (
	"io/fs"
	"runtime"
)

const (
	PermissionOnlyOwnerReadWrite         fs.FileMode = 0600
	PermissionOnlyOwnerReadWriteTraverse fs.FileMode = 0700
)

var (
	lf   = []byte("\n")
	crlf = []byte("\r\n")
)

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func LineSep() []byte {
	if IsWindows() {
		return crlf
	}
	return lf
}
