package services

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/desertthunder/spotcore/internal/auth"
	"github.com/desertthunder/spotcore/internal/engine"
	"github.com/desertthunder/spotcore/internal/shared"
)

// MaxBatch is the largest number of IDs accepted by the batch endpoints.
const MaxBatch = 50

// PublicClient calls endpoints that need no user context. Both capabilities can reach it.
type PublicClient struct {
	exec *engine.Executor
}

// UserClient adds the endpoints that act on behalf of a user. It can only be built from a
// user-delegated authority.
type UserClient struct {
	*PublicClient
	authority *auth.Authority[auth.UserDelegated]
}

// AppClient carries application credentials and exposes only the public endpoints.
type AppClient struct {
	*PublicClient
	authority *auth.Authority[auth.AppOnly]
}

// NewUserClient builds a client whose executor draws credentials from authority.
func NewUserClient(authority *auth.Authority[auth.UserDelegated], opts engine.Options) (*UserClient, error) {
	pc, err := newPublicClient(authority, opts)
	if err != nil {
		return nil, err
	}
	return &UserClient{PublicClient: pc, authority: authority}, nil
}

// NewAppClient builds a client whose executor draws credentials from authority.
func NewAppClient(authority *auth.Authority[auth.AppOnly], opts engine.Options) (*AppClient, error) {
	pc, err := newPublicClient(authority, opts)
	if err != nil {
		return nil, err
	}
	return &AppClient{PublicClient: pc, authority: authority}, nil
}

func newPublicClient(tokens engine.TokenSource, opts engine.Options) (*PublicClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = SpotifyBaseURL
	}
	opts.Tokens = tokens
	exec, err := engine.NewExecutor(opts)
	if err != nil {
		return nil, err
	}
	return &PublicClient{exec: exec}, nil
}

// Executor exposes the underlying engine for raw calls.
func (c *PublicClient) Executor() *engine.Executor { return c.exec }

// Authority returns the user authority backing the client.
func (c *UserClient) Authority() *auth.Authority[auth.UserDelegated] { return c.authority }

// Authority returns the application authority backing the client.
func (c *AppClient) Authority() *auth.Authority[auth.AppOnly] { return c.authority }

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s ID", shared.ErrMissingArgument, kind)
	}
	return nil
}

func checkBatch(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no track IDs provided", shared.ErrMissingArgument)
	}
	if len(ids) > MaxBatch {
		return fmt.Errorf("%w: maximum %d IDs allowed, got %d", shared.ErrInvalidRequest, MaxBatch, len(ids))
	}
	return nil
}

// Track retrieves a single track by ID.
func (c *PublicClient) Track(ctx context.Context, trackID string) (*SpotifyTrack, error) {
	if err := requireID("track", trackID); err != nil {
		return nil, err
	}
	track, err := engine.Perform[SpotifyTrack](ctx, c.exec, engine.Get("/tracks/"+url.PathEscape(trackID)))
	if err != nil {
		return nil, err
	}
	return &track, nil
}

type severalTracks struct {
	Tracks []SpotifyTrack `json:"tracks"`
}

// SeveralTracks retrieves up to [MaxBatch] tracks by ID. Larger batches fail without a request.
func (c *PublicClient) SeveralTracks(ctx context.Context, trackIDs []string) ([]SpotifyTrack, error) {
	if err := checkBatch(trackIDs); err != nil {
		return nil, err
	}

	response, err := engine.Perform[severalTracks](ctx, c.exec, engine.Get("/tracks", engine.Q("ids", strings.Join(trackIDs, ","))))
	if err != nil {
		return nil, err
	}
	return response.Tracks, nil
}

// Playlist retrieves a playlist by ID with the first page of its tracks.
func (c *PublicClient) Playlist(ctx context.Context, playlistID string) (*SpotifyPlaylist, error) {
	if err := requireID("playlist", playlistID); err != nil {
		return nil, err
	}
	playlist, err := engine.Perform[SpotifyPlaylist](ctx, c.exec, engine.Get("/playlists/"+url.PathEscape(playlistID)))
	if err != nil {
		return nil, err
	}
	return &playlist, nil
}

func (c *PublicClient) playlistTracks(playlistID string) engine.FetchFunc[SpotifyPlaylistTrack] {
	return engine.OffsetFetcher[SpotifyPlaylistTrack](c.exec, "/playlists/"+url.PathEscape(playlistID)+"/tracks")
}

// PlaylistTracks streams a playlist's tracks page by page as they are consumed.
func (c *PublicClient) PlaylistTracks(ctx context.Context, playlistID string, opts engine.PageOptions) iter.Seq2[SpotifyPlaylistTrack, error] {
	if err := requireID("playlist", playlistID); err != nil {
		return func(yield func(SpotifyPlaylistTrack, error) bool) { yield(SpotifyPlaylistTrack{}, err) }
	}
	return engine.Items(ctx, c.playlistTracks(playlistID), opts)
}

// AllPlaylistTracks retrieves every track of a playlist.
func (c *PublicClient) AllPlaylistTracks(ctx context.Context, playlistID string) ([]SpotifyPlaylistTrack, error) {
	if err := requireID("playlist", playlistID); err != nil {
		return nil, err
	}
	return engine.All(ctx, c.playlistTracks(playlistID), engine.PageOptions{Limit: engine.MaxPageLimit})
}

// CurrentUser retrieves the current user's profile.
func (c *UserClient) CurrentUser(ctx context.Context) (*SpotifyUser, error) {
	user, err := engine.Perform[SpotifyUser](ctx, c.exec, engine.Get("/me"))
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SavedTracksPage retrieves one page of the user's saved tracks.
func (c *UserClient) SavedTracksPage(ctx context.Context, limit, offset int) (*engine.Page[SpotifySavedTrack], error) {
	limit = engine.PageOptions{Limit: limit}.EffectiveLimit()
	return engine.OffsetFetcher[SpotifySavedTrack](c.exec, "/me/tracks")(ctx, limit, max(offset, 0))
}

// SavedTracks streams the user's saved tracks.
func (c *UserClient) SavedTracks(ctx context.Context, opts engine.PageOptions) iter.Seq2[SpotifySavedTrack, error] {
	return engine.Items(ctx, engine.OffsetFetcher[SpotifySavedTrack](c.exec, "/me/tracks"), opts)
}

// UserPlaylists streams the current user's playlists.
func (c *UserClient) UserPlaylists(ctx context.Context, opts engine.PageOptions) iter.Seq2[SpotifySimplePlaylist, error] {
	return engine.Items(ctx, engine.OffsetFetcher[SpotifySimplePlaylist](c.exec, "/me/playlists"), opts)
}

// AllUserPlaylists retrieves every playlist of the current user.
func (c *UserClient) AllUserPlaylists(ctx context.Context) ([]SpotifySimplePlaylist, error) {
	fetch := engine.OffsetFetcher[SpotifySimplePlaylist](c.exec, "/me/playlists")
	return engine.All(ctx, fetch, engine.PageOptions{Limit: engine.MaxPageLimit})
}

type idsBody struct {
	IDs []string `json:"ids"`
}

// SaveTracks adds up to [MaxBatch] tracks to the user's library.
func (c *UserClient) SaveTracks(ctx context.Context, trackIDs []string) error {
	if err := checkBatch(trackIDs); err != nil {
		return err
	}
	_, err := engine.Perform[engine.NoContent](ctx, c.exec, engine.Put("/me/tracks", idsBody{IDs: trackIDs}))
	return err
}

// RemoveSavedTracks removes up to [MaxBatch] tracks from the user's library.
func (c *UserClient) RemoveSavedTracks(ctx context.Context, trackIDs []string) error {
	if err := checkBatch(trackIDs); err != nil {
		return err
	}
	_, err := engine.Perform[engine.NoContent](ctx, c.exec, engine.Delete("/me/tracks", idsBody{IDs: trackIDs}))
	return err
}

// Service interface implementation

func (c *UserClient) Name() string {
	return "Spotify"
}

// GetPlaylists retrieves all playlists for the authenticated user.
func (c *UserClient) GetPlaylists(ctx context.Context) ([]Playlist, error) {
	items, err := c.AllUserPlaylists(ctx)
	if err != nil {
		return nil, err
	}

	playlists := make([]Playlist, 0, len(items))
	for _, sp := range items {
		playlists = append(playlists, sp.toPlaylist())
	}
	return playlists, nil
}

// GetPlaylist retrieves a specific playlist by ID.
func (c *UserClient) GetPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	sp, err := c.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	playlist := sp.toPlaylist()
	return &playlist, nil
}

// ExportPlaylist exports a playlist with every one of its tracks, following pagination.
func (c *UserClient) ExportPlaylist(ctx context.Context, playlistID string) (*PlaylistExport, error) {
	sp, err := c.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	items, err := c.AllPlaylistTracks(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(items))
	for _, item := range items {
		if item.Track.ID == "" {
			continue
		}
		tracks = append(tracks, item.Track.toTrack())
	}

	return &PlaylistExport{Playlist: sp.toPlaylist(), Tracks: tracks}, nil
}
