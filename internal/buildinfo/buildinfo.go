// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package buildinfo holds version metadata for the voiceswitch binaries.
package buildinfo

import "fmt"

// Set with -ldflags "-X" by cmd/server.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String renders the metadata the way the server logs it at startup.
func String() string {
	return fmt.Sprintf("voiceswitch Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)
}
