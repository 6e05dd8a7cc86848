package main

import (
	"fmt"
	"os"

	"github.com/CodeKage25/smart-audit-assistant/internal/cli"
	"github.com/CodeKage25/smart-audit-assistant/internal/output"
)

func main() {
	output.ToolVersion = cli.BuildVersion
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
