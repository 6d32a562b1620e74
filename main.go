// The main package for the sitecrawl executable.
package main

import (
	"github.com/DavidLozzi/starwars-graph/cmd"
)

func main() {
	cmd.Execute()
}
