package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/aideepspeak/cmd"
	"github.com/aideepspeak/internal/logging"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "aideepspeak",
		Usage:   "Multi-character AI meeting simulator",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default: ./aideepspeak.toml, then $HOME/.aideepspeak.toml)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(c.Bool("debug"))
			return nil
		},
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.GenerateCommand(),
			cmd.ServeCommand(),
			cmd.CacheCommand(),
			cmd.ProvidersCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
