// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// runCommand starts the bot and, when enabled, the OAuth callback server.
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the assistant",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "server",
				Usage: "Serve the OAuth callback endpoint",
			},
		},
		Action: r.Run,
	}
}

// setupCommand writes a starter config file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create a starter config.toml",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// checkCommand validates credentials without starting anything.
func checkCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "Validate configuration and credentials",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Check,
	}
}

// sweepCommand clears leftover download artifacts.
func sweepCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "sweep",
		Usage:  "Remove leftover files from the downloads directory",
		Flags:  []cli.Flag{configFlag()},
		Action: r.SweepDownloads,
	}
}
