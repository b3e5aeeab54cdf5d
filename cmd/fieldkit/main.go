// Command fieldkit manages dynamic form fields and their per-subject values.
package main

import (
	"os"

	"github.com/mesh-intelligence/fieldkit/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
