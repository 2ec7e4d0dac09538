// The main package for the rcwatch executable.
package main

import (
	"github.com/rcwatch/rcwatch/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
