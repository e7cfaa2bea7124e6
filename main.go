// The main package for the stortinget-register executable.
package main

import "stortinget-register/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
