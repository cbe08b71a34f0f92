package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/spotcore/internal/formatter"
	"github.com/desertthunder/spotcore/internal/shared"
	"github.com/desertthunder/spotcore/internal/tasks"
	"github.com/urfave/cli/v3"
)

// SpotifyMe prints the current user's profile.
func (r *Runner) SpotifyMe(ctx context.Context, cmd *cli.Command) error {
	client, err := r.userClient()
	if err != nil {
		return explain(err)
	}

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return explain(err)
	}

	r.writePlain("%s (%s)\n", r.palette.Title(user.DisplayName), user.ID)
	if user.Email != "" {
		r.writePlain("   Email: %s\n", user.Email)
	}
	if user.Product != "" {
		r.writePlain("   Plan: %s\n", user.Product)
	}
	return r.writePlain("   Followers: %d\n", user.Followers.Total)
}

// SpotifyPlaylists lists the current user's playlists with optional limit.
func (r *Runner) SpotifyPlaylists(ctx context.Context, cmd *cli.Command) error {
	limit := cmd.Int("limit")
	useJSON := cmd.Bool("json")
	pretty := cmd.Bool("pretty")

	client, err := r.userClient()
	if err != nil {
		return explain(err)
	}

	r.logger.Debug("listing spotify playlists", "limit", limit)

	playlists, err := client.GetPlaylists(ctx)
	if err != nil {
		return explain(err)
	}

	if limit > 0 && limit < len(playlists) {
		playlists = playlists[:limit]
	}

	if useJSON {
		return r.writeJSON(playlists, pretty)
	}

	r.writePlain("Found %d playlists:\n\n", len(playlists))
	for i, p := range playlists {
		r.writePlain("%d. %s\n", i+1, p.Name)
		if p.Description != "" {
			r.writePlain("   Description: %s\n", p.Description)
		}
		r.writePlain("   ID: %s\n", p.ID)
		r.writePlain("   Tracks: %d\n", p.TrackCount)
		if p.Public {
			r.writePlain("   Visibility: Public\n")
		} else {
			r.writePlain("   Visibility: Private\n")
		}
		r.writePlain("\n")
	}

	return nil
}

// SpotifyExport exports a playlist with all tracks, following pagination.
func (r *Runner) SpotifyExport(ctx context.Context, cmd *cli.Command) error {
	outputFile := cmd.String("output")
	useJSON := cmd.Bool("json")
	pretty := cmd.Bool("pretty")
	playlistID := cmd.String("id")

	if playlistID == "" {
		return fmt.Errorf("%w: --id flag is required", shared.ErrMissingArgument)
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	client, err := r.userClient()
	if err != nil {
		return explain(err)
	}

	r.logger.Debug("exporting spotify playlist", "id", playlistID, "format", format)

	export, err := client.ExportPlaylist(ctx, playlistID)
	if err != nil {
		return explain(err)
	}

	if outputFile != "" {
		data, err := formatter.Render(export, format)
		if err != nil {
			return fmt.Errorf("failed to render export: %w", err)
		}
		if err := os.WriteFile(outputFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}

		r.logger.Info("playlist exported", "file", outputFile, "tracks", len(export.Tracks))

		r.writePlain("✓ Playlist exported to %s\n", outputFile)
		r.writePlain("  Playlist: %s\n", export.Playlist.Name)
		r.writePlain("  Tracks: %d\n", len(export.Tracks))
		return nil
	}

	if useJSON {
		return r.writeJSON(export, pretty)
	}
	if cmd.IsSet("format") {
		data, err := formatter.Render(export, format)
		if err != nil {
			return fmt.Errorf("failed to render export: %w", err)
		}
		_, err = r.output.Write(data)
		return err
	}

	r.writePlain("Playlist: %s\n", export.Playlist.Name)
	if export.Playlist.Description != "" {
		r.writePlain("Description: %s\n", export.Playlist.Description)
	}

	r.writePlain("Tracks: %d\n\n", len(export.Tracks))

	for i, track := range export.Tracks {
		r.writePlain("%d. %s - %s\n", i+1, track.Artist, track.Title)
		if track.Album != "" {
			r.writePlain("   Album: %s\n", track.Album)
		}
		if track.ISRC != "" {
			r.writePlain("   ISRC: %s\n", track.ISRC)
		}
	}

	return nil
}

// SpotifyBackup exports several playlists (all of them by default) into a directory.
func (r *Runner) SpotifyBackup(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	client, err := r.userClient()
	if err != nil {
		return explain(err)
	}

	prog := make(chan tasks.ProgressUpdate, 64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for u := range prog {
			line := fmt.Sprintf("[%d/%d] %s", u.Step, u.Total, u.Message)
			if u.Err != nil {
				r.writePlain("%s\n", r.palette.Err(fmt.Sprintf("%s: %v", line, u.Err)))
				continue
			}
			r.writePlain("%s\n", line)
		}
	}()

	result, err := tasks.BulkExport(ctx, prog, client, cmd.StringSlice("id"), tasks.BulkExportOpts{
		Format:     format,
		OutputDir:  cmd.String("output-dir"),
		NumWorkers: cmd.Int("workers"),
		RateLimit:  cmd.Float("rate"),
	})
	close(prog)
	<-printed
	if err != nil {
		return explain(err)
	}

	r.logger.Info("backup finished", "dir", result.OutputDirectory, "ok", result.SuccessfulExports, "failed", result.FailedExports)
	r.writePlain("\n%s %d/%d playlists exported to %s\n",
		r.palette.OK("✓"), result.SuccessfulExports, result.TotalPlaylists, result.OutputDirectory)
	if result.FailedExports > 0 {
		return explain(result.Err())
	}
	return nil
}
