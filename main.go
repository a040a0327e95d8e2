// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/geotrackd/geotrackd/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
