package main

import (
	"os"

	"github.com/adcraft-labs/creative-qa/cli/cmd"
	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
)

func main() {
	if err := cmd.Execute(); err != nil {
		output.Error("%v", err)
		os.Exit(1)
	}
}
