// Command ratesim simulates per-client API rate limiting and abuse detection.
//
// Usage:
//
//	ratesim run --config ratesim.yaml
//	ratesim run --script traffic.txt --no-shell
//	ratesim validate --config ratesim.yaml
//	ratesim schema
package main

import (
	"fmt"
	"runtime/debug"

	"github.com/alecthomas/kong"
)

// version is set with -ldflags "-X main.version=...".
var version = ""

type CLI struct {
	Run      RunCmd      `cmd:"" default:"withargs" help:"Start the simulator console."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the configuration."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config string `short:"c" help:"Path to config file (YAML, JSON or TOML)." type:"path" env:"RATESIM_CONFIG"`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("ratesim version %s\n", buildVersion())
	return nil
}

func buildVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ratesim"),
		kong.Description("Per-client API rate limiting and abuse detection simulator."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
