// Package ui renders CLI output with lipgloss styles and bubbletea.
//
// [Palette] holds the named styles. [Palette.CredentialStatus] formats the auth status report and
// [Palette.Event] formats one line of the event stream printed by the events command.
// Use [Plain] when output is not a terminal.
//
// [Wait] shows a bubbletea spinner while a blocking call runs, such as waiting for the OAuth
// callback, and prints a single line instead when output is not a terminal.
package ui
