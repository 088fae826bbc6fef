// Command geovalue is the GeoValue-Intelligence command line.
package main

import (
	"os"

	"github.com/turtacn/GeoValue-Intelligence/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
