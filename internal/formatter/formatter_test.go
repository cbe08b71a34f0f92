package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/spotcore/internal/services"
	"github.com/desertthunder/spotcore/internal/shared"
	th "github.com/desertthunder/spotcore/internal/testing"
)

func sampleExport() *services.PlaylistExport {
	return &services.PlaylistExport{
		Playlist: services.Playlist{
			ID:          "test123",
			Name:        "Test Playlist",
			Description: "A test playlist",
			TrackCount:  2,
			Public:      true,
		},
		Tracks: []services.Track{
			{ID: "track1", Title: "Song One", Artist: "Artist One", Album: "Album One", Duration: 180, ISRC: "USRC12345678"},
			{ID: "track2", Title: "Song Two", Artist: "Artist Two", Duration: 245, ISRC: "USRC87654321"},
		},
	}
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(sampleExport())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header and 2 rows, got %d lines: %q", len(lines), data)
		}
		if lines[0] != "ID,Title,Artist,Album,Duration,ISRC" {
			t.Errorf("unexpected header: %s", lines[0])
		}
		if lines[1] != "track1,Song One,Artist One,Album One,180,USRC12345678" {
			t.Errorf("unexpected first row: %s", lines[1])
		}
		if lines[2] != "track2,Song Two,Artist Two,,245,USRC87654321" {
			t.Errorf("unexpected second row: %s", lines[2])
		}
	})

	t.Run("ExportToCSV quotes commas", func(t *testing.T) {
		export := sampleExport()
		export.Tracks = []services.Track{{ID: "t", Title: "Hello, World", Artist: "A"}}

		data, err := ExportToCSV(export)
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}
		if !strings.Contains(string(data), `"Hello, World"`) {
			t.Errorf("expected quoted title, got %s", data)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(sampleExport())
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# Test Playlist",
			"**Description**: A test playlist",
			"**Tracks**: 2",
			"**Visibility**: Public",
			"## Tracks",
			"1. Artist One - Song One (Album One) [3:00]",
			"2. Artist Two - Song Two [4:05]",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToMarkdown private playlist", func(t *testing.T) {
		export := sampleExport()
		export.Playlist.Public = false
		export.Playlist.Description = ""

		data, _ := ExportToMarkdown(export)
		if !strings.Contains(string(data), "**Visibility**: Private") {
			t.Errorf("expected private visibility, got:\n%s", data)
		}
		if strings.Contains(string(data), "**Description**") {
			t.Errorf("empty description should be omitted")
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(sampleExport())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		want := "Playlist: Test Playlist\nDescription: A test playlist\nTracks: 2\n\n1. Artist One - Song One\n2. Artist Two - Song Two\n"
		if string(data) != want {
			t.Errorf("ExportToText() =\n%s\nwant:\n%s", data, want)
		}
	})

	t.Run("Render JSON", func(t *testing.T) {
		data, err := Render(sampleExport(), JSON)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}

		var decoded services.PlaylistExport
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded.Playlist.ID != "test123" || len(decoded.Tracks) != 2 {
			t.Errorf("unexpected decoded export: %+v", decoded)
		}
	})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", JSON},
		{"json", JSON},
		{"CSV", CSV},
		{"md", Markdown},
		{"markdown", Markdown},
		{"text", Text},
		{"txt", Text},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseFormat("xml"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWriteExport(t *testing.T) {
	t.Run("CSV writes tracks and metadata", func(t *testing.T) {
		dir := t.TempDir()
		files, err := WriteExport(sampleExport(), CSV, dir)
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("expected 2 files, got %v", files)
		}
		th.AssertFileExists(t, filepath.Join(dir, "test123_tracks.csv"))

		meta := th.MustReadFile(t, filepath.Join(dir, "test123_metadata.json"))
		if !strings.Contains(meta, `"Name": "Test Playlist"`) {
			t.Errorf("metadata missing playlist name: %s", meta)
		}
		if strings.Contains(meta, "Song One") {
			t.Errorf("metadata should not include tracks")
		}
	})

	t.Run("Markdown writes README in playlist directory", func(t *testing.T) {
		dir := t.TempDir()
		files, err := WriteExport(sampleExport(), Markdown, dir)
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		want := filepath.Join(dir, "test123", "README.md")
		if len(files) != 1 || files[0] != want {
			t.Fatalf("files = %v, want [%s]", files, want)
		}
		if !strings.HasPrefix(th.MustReadFile(t, want), "# Test Playlist") {
			t.Errorf("README does not start with the title")
		}
	})

	t.Run("Text and JSON", func(t *testing.T) {
		dir := t.TempDir()
		if _, err := WriteExport(sampleExport(), Text, dir); err != nil {
			t.Fatalf("text: %v", err)
		}
		if _, err := WriteExport(sampleExport(), JSON, dir); err != nil {
			t.Fatalf("json: %v", err)
		}
		th.AssertFileExists(t, filepath.Join(dir, "test123_tracks.txt"))
		th.AssertFileExists(t, filepath.Join(dir, "test123.json"))
	})

	t.Run("missing ID", func(t *testing.T) {
		export := sampleExport()
		export.Playlist.ID = ""
		if _, err := WriteExport(export, JSON, t.TempDir()); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("unwritable directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "missing")
		if _, err := WriteExport(sampleExport(), Text, dir); err == nil {
			t.Error("expected an error writing into a missing directory")
		}
	})
}

func TestManifest(t *testing.T) {
	m := &ExportManifest{Format: CSV}
	m.Add("p1", "My Playlist 1", []string{"p1_tracks.csv"}, nil)
	m.Add("p2", "Failed Playlist", []string{"ignored"}, errors.New("authentication failed"))

	if m.TotalPlaylists != 2 || m.SuccessfulExports != 1 || m.FailedExports != 1 {
		t.Errorf("unexpected counters: %+v", m)
	}
	if m.Playlists[1].Files != nil {
		t.Errorf("failed entries should not list files")
	}

	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := WriteManifest(m, path); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	content := th.MustReadFile(t, path)
	for _, want := range []string{
		`"format": "csv"`,
		`"total_playlists": 2`,
		`"failed_exports": 1`,
		`"status": "success"`,
		`"status": "failed"`,
		`"error": "authentication failed"`,
	} {
		if !strings.Contains(content, want) {
			t.Errorf("manifest missing %s:\n%s", want, content)
		}
	}
}
