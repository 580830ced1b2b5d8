package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/temirov/corpusmigrate/cmd/cli"
	migratecmd "github.com/temirov/corpusmigrate/cmd/cli/migrate"
)

const (
	exitErrorTemplateConstant = "%v\n"
	exitCodeFailureConstant   = 1
	exitCodeProblemsConstant  = 2
)

func main() {
	if executionError := cli.Execute(); executionError != nil {
		fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)
		os.Exit(exitCodeFor(executionError))
	}
}

// exitCodeFor separates runs that finished with unmigrated artifacts from configuration or I/O failures.
func exitCodeFor(executionError error) int {
	if errors.Is(executionError, migratecmd.ErrProblemsReported) {
		return exitCodeProblemsConstant
	}
	return exitCodeFailureConstant
}
