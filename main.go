// The main package for the permitwatch executable.
package main

import (
	"permitwatch/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
