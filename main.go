// The main package for the docsort executable.
package main

import (
	"github.com/JakeFAU/docsort/cmd"
)

func main() {
	cmd.Execute()
}
