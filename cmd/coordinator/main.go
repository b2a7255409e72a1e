// The main package for the coordinator executable.
package main

import (
	"github.com/JakeFAU/archive-coordinator/cmd"
)

func main() {
	cmd.Execute()
}
