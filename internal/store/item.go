package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"replybot/internal/utils"
)

// ErrStoreIO marks any failure to read or write persisted pipeline state.
var ErrStoreIO = errors.New("store io")

// QueueItem is the per-comment intake record, keyed by the hash of its text.
type QueueItem struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	Comment        string `json:"comment"`
	MatchedPattern string `json:"matched_pattern"`
	Timestamp      string `json:"timestamp"`
	ReplyText      string `json:"reply_text,omitempty"`
}

// HasReply reports whether a reply has already been attached.
func (q QueueItem) HasReply() bool {
	return strings.TrimSpace(q.ReplyText) != ""
}

// ComputeID is the lowercase hex SHA-256 of text. No normalisation is applied.
func ComputeID(text string) string {
	return utils.SHA256String(text)
}

var now = func() time.Time { return time.Now().UTC() }

// Enqueue writes (or overwrites) outDir/<id>.json for text.
func Enqueue(text, sourceURL, matchedPattern, outDir string) (QueueItem, error) {
	item := QueueItem{
		ID:             ComputeID(text),
		URL:            sourceURL,
		Comment:        text,
		MatchedPattern: matchedPattern,
		Timestamp:      now().Format(time.RFC3339Nano),
	}
	if err := SaveItem(outDir, item); err != nil {
		return QueueItem{}, err
	}
	utils.Info("enqueued", "id", item.ID, "pattern", matchedPattern)
	return item, nil
}

func ItemPath(outDir, id string) string {
	return filepath.Join(outDir, id+".json")
}

// ItemDir is the exclusive per-item working directory.
func ItemDir(outDir, id string) string {
	return filepath.Join(outDir, id)
}

func SaveItem(outDir string, item QueueItem) error {
	if item.ID == "" {
		return fmt.Errorf("%w: item has no id", ErrStoreIO)
	}
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStoreIO, item.ID, err)
	}
	if err := utils.WriteFileAtomic(ItemPath(outDir, item.ID), data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStoreIO, item.ID, err)
	}
	return nil
}

func LoadItem(path string) (QueueItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return QueueItem{}, fmt.Errorf("%w: read %s: %w", ErrStoreIO, path, err)
	}
	var item QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return QueueItem{}, fmt.Errorf("%w: decode %s: %v", ErrStoreIO, path, err)
	}
	if item.ID == "" {
		item.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return item, nil
}

// LoadByID loads outDir/<id>.json.
func LoadByID(outDir, id string) (QueueItem, error) {
	return LoadItem(ItemPath(outDir, id))
}

// ListItems returns the intake record paths in outDir, sorted by name.
// Manifests and per-item directories are skipped.
func ListItems(outDir string) ([]string, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", ErrStoreIO, outDir, err)
	}
	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".meta.json") {
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}
		paths = append(paths, filepath.Join(outDir, name))
	}
	sort.Strings(paths)
	return paths, nil
}
