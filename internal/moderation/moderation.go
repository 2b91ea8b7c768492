// Package moderation lists finished replies and publishes approved ones.
package moderation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"replybot/internal/store"
	"replybot/internal/utils"
)

var ErrNotFound = errors.New("item not found")

type Entry struct {
	ID       string
	Comment  string
	URL      string
	Manifest store.Manifest
}

// List returns every queue item that has a manifest, sorted by id.
// Items whose intake record is missing or unreadable are skipped.
func List(queueDir string) ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(queueDir, "*", "*.meta.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	var entries []Entry
	for _, path := range matches {
		dir := filepath.Dir(path)
		id := filepath.Base(dir)
		if filepath.Base(path) != id+".meta.json" {
			continue
		}
		m, err := store.ReadManifest(dir, id)
		if err != nil {
			utils.Warn("manifest unreadable", "id", id, "error", err)
			continue
		}
		item, err := store.LoadByID(queueDir, id)
		if err != nil {
			utils.Warn("intake record unreadable", "id", id, "error", err)
			continue
		}
		entries = append(entries, Entry{ID: id, Comment: item.Comment, URL: item.URL, Manifest: m})
	}
	return entries, nil
}

// Approve copies queue/<id> to published/<id>, replacing any earlier
// published copy. The queue copy is left untouched.
func Approve(queueDir, publishedDir, id string) (string, error) {
	if id == "" || id != filepath.Base(id) {
		return "", fmt.Errorf("invalid id %q", id)
	}
	src := store.ItemDir(queueDir, id)
	if _, err := store.ReadManifest(src, id); err != nil {
		return "", fmt.Errorf("%w: %s has no manifest", ErrNotFound, id)
	}
	if err := utils.EnsureDir(publishedDir); err != nil {
		return "", err
	}
	dst := filepath.Join(publishedDir, id)
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("clear published %s: %w", id, err)
	}
	if err := utils.CopyDir(src, dst); err != nil {
		return "", fmt.Errorf("publish %s: %w", id, err)
	}
	utils.Info("published", "id", id, "dir", dst)
	return dst, nil
}
