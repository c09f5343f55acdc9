/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/lldbdap/internal/version"
)

const (
	// If set, the value of this variable is written to the log as one of the first log messages.
	LLDBDAP_LOGGING_CONTEXT = "LLDBDAP_LOGGING_CONTEXT"
)

func NewVersionCommand(log logr.Logger) (*cobra.Command, error) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Prints version information",
		Long:  `Prints version information.`,
		RunE:  getVersion(log),
		Args:  cobra.NoArgs,
	}

	return versionCmd, nil
}

func getVersion(log logr.Logger) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log = log.WithName("version")

		versionStr, err := versionString()
		if err != nil {
			log.Error(err, "Could not serialize version information")
			return err
		}

		return printLine(cmd.OutOrStdout(), versionStr)
	}
}

// LogVersion logs the adapter start, with the version and the command line.
func LogVersion(log logr.Logger, programStartMsg string) {
	versionStr, err := versionString()
	if err != nil {
		versionStr = fmt.Sprintf("unknown: %v", err)
	}

	launchPath, pathErr := os.Executable()
	if pathErr != nil {
		launchPath = os.Args[0]
	}

	log.V(1).Info(programStartMsg,
		"PID", os.Getpid(),
		"Exe", launchPath,
		"Args", os.Args[1:],
		"Version", versionStr,
	)

	logContext, found := os.LookupEnv(LLDBDAP_LOGGING_CONTEXT)
	if found && len(logContext) > 0 {
		log.V(1).Info(logContext)
	}
}

func versionString() (string, error) {
	serialized, err := json.Marshal(version.Version())
	if err != nil {
		return "", err
	}
	return string(serialized), nil
}
