// Package main is the single-binary entrypoint for rendersync.
package main

import "github.com/rayvision-network/rendersync/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
