// Package replaycatalog indexes the match recordings kept under a replay directory.
package replaycatalog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"pongnet/core/internal/replay"
)

const manifestFile = "manifest.json"

// Entry captures a recording manifest alongside its bundle directory.
type Entry struct {
	Dir      string          `json:"dir"`
	Manifest replay.Manifest `json:"manifest"`
}

// List walks the directory tree and returns every readable recording manifest,
// oldest first.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- Walk the directory tree searching for bundle manifests.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != manifestFile {
			return nil
		}
		manifest, dir, err := replay.ReadManifest(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		entries = append(entries, Entry{Dir: dir, Manifest: manifest})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].Dir < entries[j].Dir
		}
		return entries[i].Manifest.CreatedAt < entries[j].Manifest.CreatedAt
	})
	return entries, nil
}

// Filter keeps the entries recorded for matchID. An empty matchID keeps everything.
func Filter(entries []Entry, matchID string) []Entry {
	if matchID == "" {
		return entries
	}
	kept := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Manifest.MatchID == matchID {
			kept = append(kept, entry)
		}
	}
	return kept
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
