// The main package for the nocan executable.
package main

import (
	"github.com/omzlo/nocan-node-manager/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
