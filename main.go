package main

import (
	"github.com/vantera-data/dataverse-sync/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cli.Execute(Version)
}
