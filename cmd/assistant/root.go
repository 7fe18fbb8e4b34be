package main

import (
	"github.com/urfave/cli/v3"
)

const (
	configFlag = "config"
	debugFlag  = "debug"
)

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:            "voiceai",
		Usage:           "Voice assistant backend",
		HideHelpCommand: true,
		DefaultCommand:  "serve",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to the YAML config file",
				Sources: cli.EnvVars("VOICEAI_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  debugFlag,
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			askCommand(),
			usageCommand(),
			keyCommand(),
			wakeCommand(),
		},
	}
}
