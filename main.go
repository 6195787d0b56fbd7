// The main package for the civicrawl executable.
package main

import (
	"github.com/civicrawl/civicrawl/cmd"
)

func main() {
	cmd.Execute()
}
