package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"replybot/internal/utils"
)

// Manifest is the completion marker written next to a finished video.
type Manifest struct {
	Video       string `json:"video"`
	WAV         string `json:"wav"`
	Reply       string `json:"reply"`
	VideoSHA256 string `json:"video_sha256,omitempty"`
	Frames      int    `json:"frames,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func ManifestPath(itemDir, id string) string {
	return filepath.Join(itemDir, id+".meta.json")
}

func WriteManifest(itemDir, id string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode manifest %s: %v", ErrStoreIO, id, err)
	}
	if err := utils.WriteFileAtomic(ManifestPath(itemDir, id), data, 0o644); err != nil {
		return fmt.Errorf("%w: write manifest %s: %v", ErrStoreIO, id, err)
	}
	return nil
}

func ReadManifest(itemDir, id string) (Manifest, error) {
	path := ManifestPath(itemDir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: read manifest %s: %w", ErrStoreIO, path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode manifest %s: %v", ErrStoreIO, path, err)
	}
	return m, nil
}
