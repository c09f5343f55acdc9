/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/lldbdap/pkg/testutil"
)

func TestManifestCommandPrintsRegistration(t *testing.T) {
	t.Parallel()

	cmd, err := NewManifestCommand(testutil.NewLogForTesting(t.Name()))
	require.NoError(t, err)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &manifest))

	require.Equal(t, "lldbdap", manifest["type"])
	require.ElementsMatch(t, []any{"c", "cpp", "objective-c", "rust", "swift"}, manifest["languages"])

	launch := manifest["configurationAttributes"].(map[string]any)["launch"].(map[string]any)
	require.Equal(t, []any{"program"}, launch["required"])
	properties := launch["properties"].(map[string]any)
	require.Contains(t, properties, "program")
	require.Contains(t, properties, "stopOnEntry")

	initial := manifest["initialConfigurations"].([]any)
	require.Len(t, initial, 1)
	config := initial[0].(map[string]any)
	require.Equal(t, "lldbdap", config["type"])
	require.Equal(t, "launch", config["request"])
	require.Contains(t, config, "program")
	require.Contains(t, config, "stopOnEntry")
}

func TestVersionCommandPrintsJSON(t *testing.T) {
	t.Parallel()

	cmd, err := NewVersionCommand(testutil.NewLogForTesting(t.Name()))
	require.NoError(t, err)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	var v map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	require.Contains(t, v, "version")
}
