// Command web runs the Smart-Music-Tags service. Without a subcommand it
// serves the HTTP API; the migrate, gc and init subcommands manage the
// database and the configuration file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "smart-music-tags:", err)
		os.Exit(1)
	}
}

// newCommand builds the command tree. The --config flag is shared by every
// subcommand.
func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "smart-music-tags",
		Usage: "Tag your Spotify albums",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
				Sources: cli.EnvVars("SMART_MUSIC_TAGS_CONFIG"),
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Action: migrateDatabase,
			},
			{
				Name:   "gc",
				Usage:  "Remove albums, tags and album tags nobody references",
				Action: collectGarbage,
			},
			{
				Name:  "init",
				Usage: "Write an example configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Usage: "Where to write the file",
						Value: "config.toml",
					},
				},
				Action: writeConfig,
			},
		},
	}
}
