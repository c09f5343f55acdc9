/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"strconv"
	"time"
)

const (
	DevelopmentVersion = "dev"
)

// Set at build time via -ldflags "-X".
var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = ""
)

// Timestamp serializes as an RFC 3339 string, or null when unknown.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.Format(time.RFC3339))), nil
}

type VersionOutput struct {
	Version    string     `json:"version"`
	CommitHash string     `json:"commitHash,omitempty"`
	BuildTime  *Timestamp `json:"buildTimestamp,omitempty"`
}

// Version returns the version information of the running binary.
// BuildTimestamp may be either Unix seconds or an RFC 3339 timestamp.
func Version() VersionOutput {
	output := VersionOutput{
		Version:    ProductVersion,
		CommitHash: CommitHash,
	}
	if output.Version == "" {
		output.Version = DevelopmentVersion
	}

	if BuildTimestamp != "" {
		if seconds, parseErr := strconv.ParseInt(BuildTimestamp, 10, 64); parseErr == nil {
			output.BuildTime = &Timestamp{time.Unix(seconds, 0).UTC()}
		} else if parsed, timeErr := time.Parse(time.RFC3339, BuildTimestamp); timeErr == nil {
			output.BuildTime = &Timestamp{parsed}
		}
	}

	return output
}
