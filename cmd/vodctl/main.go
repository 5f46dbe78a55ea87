package main

import (
	"fmt"
	"os"

	"github.com/abdul-hamid-achik/vodpipe/internal/vodctl/cli"
	"github.com/fatih/color"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("✗"), err)
		os.Exit(1)
	}
}
