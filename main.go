// The main package for the confcrawl executable.
package main

import (
	"github.com/JakeFAU/conference-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
