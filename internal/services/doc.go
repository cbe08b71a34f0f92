// Package services maps the Spotify Web API onto the request engine.
//
// # Clients
//
// Client types are gated by the capability of the authority they are built from:
//   - [PublicClient] holds the catalog endpoints (tracks, playlists) reachable by any credential
//   - [UserClient] embeds it and adds the library and profile endpoints that act for a user
//   - [AppClient] embeds it and adds nothing, so user endpoints cannot be called with an
//     application credential
//
// # Pagination
//
// Listing endpoints come in two forms. Streaming methods return an [iter.Seq2] that fetches
// each page only when the consumer reaches it; the All* methods materialize the listing and
// fail rather than return a partial result.
//
// # Service Interface
//
// [UserClient] also implements [Service], the provider-neutral playlist surface, converting
// Spotify objects to [Playlist] and [Track] with the ISRC taken from external_ids.
//
// # Error Handling
//
// Arguments are validated before any request is sent:
//   - [shared.ErrMissingArgument] : empty ID or empty batch
//   - [shared.ErrInvalidRequest] : batch larger than [MaxBatch]
//
// Everything else surfaces from the engine as [shared.HTTPError], [shared.NetworkError] or
// [shared.AuthError].
package services
