// package formatter renders playlist exports as CSV, Markdown, plain text or JSON.
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/desertthunder/spotcore/internal/services"
	"github.com/desertthunder/spotcore/internal/shared"
)

// Format names an export encoding.
type Format string

const (
	JSON     Format = "json"
	CSV      Format = "csv"
	Markdown Format = "markdown"
	Text     Format = "txt"
)

// Formats lists the accepted format names in display order.
var Formats = []Format{JSON, CSV, Markdown, Text}

// ParseFormat accepts a format name case-insensitively; "md" and "text" are aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return JSON, nil
	case "csv":
		return CSV, nil
	case "markdown", "md":
		return Markdown, nil
	case "txt", "text":
		return Text, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
}

// Render encodes export in the given format.
func Render(export *services.PlaylistExport, f Format) ([]byte, error) {
	switch f {
	case CSV:
		return ExportToCSV(export)
	case Markdown:
		return ExportToMarkdown(export)
	case Text:
		return ExportToText(export)
	default:
		return json.MarshalIndent(export, "", "  ")
	}
}

// ExportToCSV converts a PlaylistExport to CSV format with columns: ID, Title, Artist, Album, Duration, ISRC
func ExportToCSV(export *services.PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Title", "Artist", "Album", "Duration", "ISRC"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range export.Tracks {
		record := []string{
			track.ID,
			track.Title,
			track.Artist,
			track.Album,
			strconv.Itoa(track.Duration),
			track.ISRC,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a PlaylistExport to a Markdown document.
func ExportToMarkdown(export *services.PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", export.Playlist.Name)
	if export.Playlist.Description != "" {
		fmt.Fprintf(&buf, "**Description**: %s\n\n", export.Playlist.Description)
	}

	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(export.Tracks))
	fmt.Fprintf(&buf, "**Visibility**: %s\n\n", visibility(export.Playlist.Public))

	buf.WriteString("## Tracks\n\n")
	for i, track := range export.Tracks {
		albumPart := ""
		if track.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", track.Album)
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%s]\n", i+1, track.Artist, track.Title, albumPart, duration(track.Duration))
	}

	return buf.Bytes(), nil
}

// ExportToText converts a PlaylistExport to plain text format
func ExportToText(export *services.PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", export.Playlist.Name)
	if export.Playlist.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", export.Playlist.Description)
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(export.Tracks))

	for i, track := range export.Tracks {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, track.Artist, track.Title)
	}

	return buf.Bytes(), nil
}

// WriteExport renders export into dir and returns the files it created.
//
// JSON and text produce one file named after the playlist ID. CSV adds a
// {id}_metadata.json next to {id}_tracks.csv. Markdown writes {dir}/{id}/README.md.
func WriteExport(export *services.PlaylistExport, f Format, dir string) ([]string, error) {
	id := export.Playlist.ID
	if id == "" {
		return nil, fmt.Errorf("%w: playlist export has no ID", shared.ErrInvalidArgument)
	}

	switch f {
	case CSV:
		base := filepath.Join(dir, id)
		data, err := ExportToCSV(export)
		if err != nil {
			return nil, err
		}
		meta, err := json.MarshalIndent(export.Playlist, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
		}
		files := []string{base + "_tracks.csv", base + "_metadata.json"}
		if err := writeFile(files[0], data); err != nil {
			return nil, err
		}
		if err := writeFile(files[1], meta); err != nil {
			return nil, err
		}
		return files, nil
	case Markdown:
		sub := filepath.Join(dir, id)
		if err := os.MkdirAll(sub, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		data, err := ExportToMarkdown(export)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(sub, "README.md")
		return []string{path}, writeFile(path, data)
	case Text:
		data, err := ExportToText(export)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, id+"_tracks.txt")
		return []string{path}, writeFile(path, data)
	default:
		data, err := Render(export, JSON)
		if err != nil {
			return nil, fmt.Errorf("JSON marshal failed: %w", err)
		}
		path := filepath.Join(dir, id+".json")
		return []string{path}, writeFile(path, data)
	}
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func visibility(public bool) string {
	if public {
		return "Public"
	}
	return "Private"
}

// duration formats seconds as m:ss.
func duration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
