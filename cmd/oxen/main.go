// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/oxen-ai/oxen-go/pkg/command"
)

func main() {
	os.Exit(command.Execute())
}
