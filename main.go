// The main package for the sitegraph executable.
package main

import (
	"github.com/JakeFAU/sitegraph/cmd"
)

func main() {
	cmd.Execute()
}
