// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package main provides the entrypoint for the taskwatch service
package main

import "github.com/taskwatch/taskwatch/cmd/taskwatch/app"

func main() {
	app.Execute()
}
