// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, getCommand, paginateCommand, eventsCommand, spotifyCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

// app builds the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "spotcore",
		Usage:   "Authenticated Spotify Web API client",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log requests and record performance metrics",
			},
			&cli.BoolFlag{
				Name:  "offline",
				Usage: "Fail every request without touching the network",
			},
		},
		Before:   r.Configure,
		Commands: r.register(),
	}
}

func appFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "app",
		Usage: "Use the application credential instead of the user credential",
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file and credential database",
		Action: r.Setup,
	}
}

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage stored credentials",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize in the browser and store the user credential",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: defaultLoginTimeout,
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening it",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show stored credentials",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "history", Usage: "Show recent credential writes"}},
				Action: r.AuthStatus,
			},
			{
				Name:   "logout",
				Usage:  "Forget the stored credential",
				Flags:  []cli.Flag{appFlag()},
				Action: r.AuthLogout,
			},
		},
	}
}

func getCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "GET an API path and print the JSON response",
		Arguments: []cli.Argument{&cli.StringArg{Name: "path"}},
		Flags: []cli.Flag{
			appFlag(),
			&cli.StringSliceFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Query parameter as name=value, repeatable",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
			},
		},
		Action: r.Get,
	}
}

func paginateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "paginate",
		Usage:     "Stream the items of an offset-paginated listing, one JSON object per line",
		Arguments: []cli.Argument{&cli.StringArg{Name: "path"}},
		Flags: []cli.Flag{
			appFlag(),
			&cli.StringSliceFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Query parameter as name=value, repeatable",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Page size",
				Value: 50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Starting offset",
			},
			&cli.IntFlag{
				Name:  "max-items",
				Usage: "Stop after this many items (0 for all)",
			},
			&cli.IntFlag{
				Name:  "max-pages",
				Usage: "Stop after this many pages (0 for all)",
			},
		},
		Action: r.Paginate,
	}
}

func eventsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "events",
		Usage:     "GET an API path and print the lifecycle events it produced",
		Arguments: []cli.Argument{&cli.StringArg{Name: "path"}},
		Flags: []cli.Flag{
			appFlag(),
			&cli.IntFlag{
				Name:  "repeat",
				Usage: "Issue the request this many times concurrently",
				Value: 1,
			},
		},
		Action: r.Events,
	}
}

func spotifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "spotify",
		Aliases: []string{"spot"},
		Usage:   "Spotify user operations",
		Commands: []*cli.Command{
			{
				Name:   "me",
				Usage:  "Show the current user's profile",
				Action: r.SpotifyMe,
			},
			{
				Name:  "playlists",
				Usage: "List the current user's playlists",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of playlists to return",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: r.SpotifyPlaylists,
			},
			{
				Name:  "export",
				Usage: "Export a playlist with all of its tracks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Playlist ID to export",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
					formatFlag(),
				},
				Action: r.SpotifyExport,
			},
			{
				Name:  "backup",
				Usage: "Export many playlists concurrently into a directory",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "id",
						Usage: "Playlist ID to export (repeatable; default: every playlist)",
					},
					&cli.StringFlag{
						Name:    "output-dir",
						Aliases: []string{"d"},
						Usage:   "Directory to write exports into (default: spotify_export_{epoch})",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent exports",
						Value: 5,
					},
					&cli.FloatFlag{
						Name:  "rate",
						Usage: "Playlists started per second",
						Value: 5,
					},
					formatFlag(),
				},
				Action: r.SpotifyBackup,
			},
		},
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Export format: json, csv, markdown, txt",
	}
}
