package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/spotcore/internal/formatter"
	"github.com/desertthunder/spotcore/internal/services"
	"github.com/desertthunder/spotcore/internal/shared"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultWorkers   = 5
	maxWorkers       = 10
	defaultRateLimit = 5.0
	manifestName     = "export_manifest.json"
)

// BulkExportOpts contains configuration for bulk playlist exports.
type BulkExportOpts struct {
	Format     formatter.Format // Export format (default: json)
	OutputDir  string           // Base output directory (default: spotify_export_{epoch})
	NumWorkers int              // Concurrent workers (default: 5, max: 10)
	RateLimit  float64          // Playlists started per second (default: 5)
}

func (o BulkExportOpts) withDefaults(now time.Time) BulkExportOpts {
	if o.Format == "" {
		o.Format = formatter.JSON
	}
	if o.OutputDir == "" {
		o.OutputDir = fmt.Sprintf("spotify_export_%d", now.Unix())
	}
	if o.NumWorkers <= 0 {
		o.NumWorkers = defaultWorkers
	}
	o.NumWorkers = min(o.NumWorkers, maxWorkers)
	if o.RateLimit <= 0 {
		o.RateLimit = defaultRateLimit
	}
	return o
}

// PlaylistExportResult is the outcome for a single playlist.
type PlaylistExportResult struct {
	PlaylistID   string
	PlaylistName string
	Files        []string
	Error        error
}

// Success reports whether the playlist was written.
func (r PlaylistExportResult) Success() bool { return r.Error == nil }

// BulkExportResult aggregates a bulk run. Results keep the order of the requested IDs.
type BulkExportResult struct {
	TotalPlaylists    int
	SuccessfulExports int
	FailedExports     int
	Results           []PlaylistExportResult
	OutputDirectory   string
	ManifestPath      string
}

// BulkExport exports the playlists named by ids, or every playlist of the
// current user when ids is empty.
//
// Per-playlist failures are reported in the result; the returned error is
// reserved for setup failures, cancellation, and a manifest that could not be written.
func BulkExport(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	srv services.Service,
	ids []string,
	opts BulkExportOpts,
) (*BulkExportResult, error) {
	if srv == nil {
		return nil, fmt.Errorf("%w: service not initialized", shared.ErrMissingArgument)
	}
	opts = opts.withDefaults(time.Now())

	names := map[string]string{}
	if len(ids) == 0 {
		playlists, err := srv.GetPlaylists(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list playlists: %w", err)
		}
		for _, p := range playlists {
			ids = append(ids, p.ID)
			names[p.ID] = p.Name
		}
		sendProgress(prog, listingUpdate(len(ids)))
	}
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("%w: empty playlist ID", shared.ErrMissingArgument)
		}
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &BulkExportResult{
		TotalPlaylists:  len(ids),
		OutputDirectory: opts.OutputDir,
		Results:         make([]PlaylistExportResult, len(ids)),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.NumWorkers)

	var mu sync.Mutex
	completed := 0
	done := func(res PlaylistExportResult) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if res.Success() {
			sendProgress(prog, exportCompletedUpdate(completed, len(ids), res.PlaylistName, len(res.Files)))
		} else {
			sendProgress(prog, exportFailedUpdate(completed, len(ids), res.PlaylistName, res.Error))
		}
	}

	for i, id := range ids {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			res := exportOne(gctx, srv, id, opts)
			if res.PlaylistName == "" {
				res.PlaylistName = names[id]
			}
			result.Results[i] = res
			done(res)
			return nil
		})
	}
	g.Wait()

	manifest := &formatter.ExportManifest{Format: opts.Format, CreatedAt: time.Now().UTC()}
	kept := result.Results[:0]
	for _, res := range result.Results {
		if res.PlaylistID == "" {
			continue // never started
		}
		manifest.Add(res.PlaylistID, res.PlaylistName, res.Files, res.Error)
		kept = append(kept, res)
	}
	result.Results = kept
	result.SuccessfulExports = manifest.SuccessfulExports
	result.FailedExports = manifest.FailedExports

	manifestPath := filepath.Join(opts.OutputDir, manifestName)
	if err := formatter.WriteManifest(manifest, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	sendProgress(prog, manifestUpdate(manifestPath))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func exportOne(ctx context.Context, srv services.Service, id string, opts BulkExportOpts) PlaylistExportResult {
	res := PlaylistExportResult{PlaylistID: id}

	export, err := srv.ExportPlaylist(ctx, id)
	if err != nil {
		res.Error = fmt.Errorf("failed to fetch playlist: %w", err)
		return res
	}
	res.PlaylistName = export.Playlist.Name
	if export.Playlist.ID == "" {
		export.Playlist.ID = id
	}

	files, err := formatter.WriteExport(export, opts.Format, opts.OutputDir)
	if err != nil {
		res.Error = fmt.Errorf("%s export failed: %w", opts.Format, err)
		return res
	}
	res.Files = files
	return res
}

// Err joins the per-playlist failures, or returns nil when every export succeeded.
func (r *BulkExportResult) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.PlaylistID, res.Error))
		}
	}
	return errors.Join(errs...)
}
