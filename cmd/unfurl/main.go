// The main package for the unfurl executable.
package main

import (
	"os"

	"github.com/JakeFAU/unfurl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
