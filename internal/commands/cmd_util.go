/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/microsoft/lldbdap/pkg/logger"
	"github.com/microsoft/lldbdap/pkg/osutil"
)

// ErrorExit reports a fatal error on stderr and in the log, flushes the log and exits the process.
func ErrorExit(log *logger.Logger, err error, exitCode int) {
	log.Error(err, "Command failed", "exitCode", exitCode)
	_, _ = os.Stderr.WriteString(err.Error() + string(osutil.LineSep()))
	log.Flush()
	os.Exit(exitCode)
}

// printLine writes s to w followed by the platform line separator.
func printLine(w io.Writer, s string) error {
	_, err := fmt.Fprint(w, s+string(osutil.LineSep()))
	return err
}
