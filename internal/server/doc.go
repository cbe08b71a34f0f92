// Package server provides HTTP routing, middleware, and the OAuth callback used by the login command.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation registers method patterns on an [http.ServeMux].
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the authorization code callback for both confidential and PKCE clients.
//
// The handler validates the state parameter (CSRF protection), hands the code and verifier to an
// [Exchanger] (the user authority, which persists the credential), and sends the result through a channel.
//
// It only processes one callback to prevent replay attacks.
//
// # Callback Server
//
// [StartCallbackServer] runs the router on the redirect URI's address for the duration of a login;
// [AwaitCallback] blocks until the handler reports, the server fails, or the context ends.
package server
