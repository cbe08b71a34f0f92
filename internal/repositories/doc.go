// Package repositories implements SQLite persistence for credentials.
//
// [CredentialRepository] satisfies [auth.CredentialStore] for one store key ("user" or "app"), so
// each authority persists to its own row of the credentials table. Every write is a single
// transaction that replaces the row and appends an audit entry to credential_events; a failed
// write leaves the previous credential in place.
package repositories
