package formatter

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportManifest summarizes a bulk export run.
type ExportManifest struct {
	Format            Format          `json:"format"`
	CreatedAt         time.Time       `json:"created_at"`
	TotalPlaylists    int             `json:"total_playlists"`
	SuccessfulExports int             `json:"successful_exports"`
	FailedExports     int             `json:"failed_exports"`
	Playlists         []ManifestEntry `json:"playlists"`
}

// ManifestEntry is one playlist's outcome.
type ManifestEntry struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Files  []string `json:"files,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Add records an outcome and updates the counters.
func (m *ExportManifest) Add(id, name string, files []string, err error) {
	m.TotalPlaylists++
	entry := ManifestEntry{ID: id, Name: name, Status: "success", Files: files}
	if err != nil {
		entry.Status = "failed"
		entry.Files = nil
		entry.Error = err.Error()
		m.FailedExports++
	} else {
		m.SuccessfulExports++
	}
	m.Playlists = append(m.Playlists, entry)
}

// WriteManifest writes m as indented JSON to path.
func WriteManifest(m *ExportManifest, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return writeFile(path, data)
}
