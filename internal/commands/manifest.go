/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

const DebuggerType = "lldbdap"

// Manifest is the registration of the adapter with the host editor.
// It is descriptive only; nothing in the adapter reads it back.
type Manifest struct {
	Type                  string                `json:"type"`
	Label                 string                `json:"label"`
	Program               string                `json:"program"`
	Languages             []string              `json:"languages"`
	ConfigurationAttrs    ConfigurationAttrs    `json:"configurationAttributes"`
	InitialConfigurations []LaunchConfiguration `json:"initialConfigurations"`
}

type ConfigurationAttrs struct {
	Launch RequestAttributes `json:"launch"`
}

type RequestAttributes struct {
	Required   []string                     `json:"required"`
	Properties map[string]AttributeProperty `json:"properties"`
}

type AttributeProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

type LaunchConfiguration struct {
	Type        string `json:"type"`
	Request     string `json:"request"`
	Name        string `json:"name"`
	Program     string `json:"program"`
	StopOnEntry bool   `json:"stopOnEntry"`
}

func NewManifest() Manifest {
	return Manifest{
		Type:      DebuggerType,
		Label:     "LLDB",
		Program:   "lldbdap",
		Languages: []string{"c", "cpp", "objective-c", "rust", "swift"},
		ConfigurationAttrs: ConfigurationAttrs{
			Launch: RequestAttributes{
				Required: []string{"program"},
				Properties: map[string]AttributeProperty{
					"program": {
						Type:        "string",
						Description: "Absolute path to the program to debug.",
						Default:     "${workspaceFolder}/a.out",
					},
					"stopOnEntry": {
						Type:        "boolean",
						Description: "Automatically stop after launch.",
						Default:     true,
					},
				},
			},
		},
		InitialConfigurations: []LaunchConfiguration{
			{
				Type:        DebuggerType,
				Request:     "launch",
				Name:        "Debug with LLDB",
				Program:     "${workspaceFolder}/a.out",
				StopOnEntry: true,
			},
		},
	}
}

func NewManifestCommand(log logr.Logger) (*cobra.Command, error) {
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Prints the editor registration of the debug adapter",
		Long: `Prints the editor registration of the debug adapter as JSON.

The registration names the debugger type, the languages the adapter can debug,
and the attributes of a launch configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			serialized, err := json.MarshalIndent(NewManifest(), "", "  ")
			if err != nil {
				log.Error(err, "Could not serialize the adapter manifest")
				return fmt.Errorf("could not serialize the adapter manifest: %w", err)
			}
			return printLine(cmd.OutOrStdout(), string(serialized))
		},
	}

	return manifestCmd, nil
}
